package middleware

import (
	"encoding/xml"

	"github.com/pkg/errors"

	"fognode/internal/shell"
)

// RemoteConfPath is where the generated config lands on the node.
const RemoteConfPath = "/home/ubuntu/cyclonedds.xml"

// CycloneDDS discovery/transport configuration, pinned to the overlay
// interface so DDS traffic never leaves the tunnel.
type document struct {
	XMLName xml.Name `xml:"CycloneDDS"`
	Xmlns   string   `xml:"xmlns,attr"`
	Domain  domain   `xml:"Domain"`
}

type domain struct {
	ID        string    `xml:"id,attr"`
	General   general   `xml:"General"`
	Discovery discovery `xml:"Discovery"`
}

type general struct {
	NetworkInterfaceAddress string `xml:"NetworkInterfaceAddress"`
	AllowMulticast          bool   `xml:"AllowMulticast"`
}

type discovery struct {
	Peers            peers  `xml:"Peers"`
	ParticipantIndex string `xml:"ParticipantIndex"`
}

type peers struct {
	Peer []peer `xml:"Peer"`
}

type peer struct {
	Address string `xml:"address,attr"`
}

// Build renders the middleware config for a node that must discover the
// given peer addresses over the overlay interface.
func Build(peerAddrs []string) (string, error) {
	if len(peerAddrs) == 0 {
		return "", errors.New("middleware config needs at least one peer")
	}

	doc := document{
		Xmlns: "https://cdds.io/config",
		Domain: domain{
			ID: "any",
			General: general{
				NetworkInterfaceAddress: "wg0",
				AllowMulticast:          false,
			},
			Discovery: discovery{
				ParticipantIndex: "auto",
			},
		},
	}

	for _, addr := range peerAddrs {
		doc.Domain.Discovery.Peers.Peer = append(doc.Domain.Discovery.Peers.Peer, peer{Address: addr})
	}

	out, err := xml.MarshalIndent(doc, "", "    ")

	if err != nil {
		return "", errors.Wrap(err, "render middleware config")
	}

	return xml.Header + string(out) + "\n", nil
}

// EnvCommand is the shell fragment pointing the workload at the config.
func EnvCommand(remotePath string) string {
	return shell.Export("CYCLONEDDS_URI", "file://"+remotePath)
}
