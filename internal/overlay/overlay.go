package overlay

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/curve25519"
)

// The overlay uses a fixed internal addressing plan: the launching host owns
// 10.0.0.1, the provisioned node 10.0.0.2. Workload traffic rides the wg0
// interface regardless of the node's public addressing.
const (
	NodeAddress  = "10.0.0.2/24"
	LocalAddress = "10.0.0.1/24"
	ListenPort   = 51820

	// RemoteConfPath is where the node config is staged before being
	// installed to /etc/wireguard.
	RemoteConfPath = "/tmp/fognode-wg.conf"
)

// Config carries both halves of a WireGuard point-to-point overlay: the text
// installed on the provisioned node and its counterpart for the launching
// host, plus the command that activates the interface remotely.
type Config struct {
	NodeText  string
	LocalText string

	NodePublicKey   string
	LocalPublicKey  string
	LocalPrivateKey string

	ActivateCommand string
}

// Build generates key pairs for both ends and renders the overlay config.
// peers are the internal addresses the node accepts traffic from;
// nodeEndpoint, when known, is embedded in the local half so the launching
// host can initiate the tunnel.
func Build(peers []string, nodeEndpoint string) (*Config, error) {
	if len(peers) == 0 {
		return nil, errors.New("overlay needs at least one peer address")
	}

	nodePriv, nodePub, err := keyPair()

	if err != nil {
		return nil, errors.Wrap(err, "node key pair")
	}

	localPriv, localPub, err := keyPair()

	if err != nil {
		return nil, errors.Wrap(err, "local key pair")
	}

	allowed := make([]string, len(peers))
	for i, peer := range peers {
		allowed[i] = peer + "/32"
	}

	var node strings.Builder
	fmt.Fprintf(&node, "[Interface]\n")
	fmt.Fprintf(&node, "Address = %s\n", NodeAddress)
	fmt.Fprintf(&node, "PrivateKey = %s\n", nodePriv)
	fmt.Fprintf(&node, "ListenPort = %d\n", ListenPort)
	fmt.Fprintf(&node, "\n[Peer]\n")
	fmt.Fprintf(&node, "PublicKey = %s\n", localPub)
	fmt.Fprintf(&node, "AllowedIPs = %s\n", strings.Join(allowed, ", "))
	fmt.Fprintf(&node, "PersistentKeepalive = 25\n")

	var local strings.Builder
	fmt.Fprintf(&local, "[Interface]\n")
	fmt.Fprintf(&local, "Address = %s\n", LocalAddress)
	fmt.Fprintf(&local, "PrivateKey = %s\n", localPriv)
	fmt.Fprintf(&local, "ListenPort = %d\n", ListenPort)
	fmt.Fprintf(&local, "\n[Peer]\n")
	fmt.Fprintf(&local, "PublicKey = %s\n", nodePub)
	fmt.Fprintf(&local, "AllowedIPs = %s\n", strings.TrimSuffix(NodeAddress, "/24")+"/32")
	if nodeEndpoint != "" {
		fmt.Fprintf(&local, "Endpoint = %s:%d\n", nodeEndpoint, ListenPort)
	}

	activate := fmt.Sprintf(
		"sudo cp %s /etc/wireguard/wg0.conf && sudo chmod 600 /etc/wireguard/wg0.conf && sudo wg-quick up wg0",
		RemoteConfPath,
	)

	return &Config{
		NodeText:        node.String(),
		LocalText:       local.String(),
		NodePublicKey:   nodePub,
		LocalPublicKey:  localPub,
		LocalPrivateKey: localPriv,
		ActivateCommand: activate,
	}, nil
}

// keyPair generates a WireGuard Curve25519 key pair, base64 encoded.
func keyPair() (private, public string, err error) {
	var priv [32]byte

	if _, err := rand.Read(priv[:]); err != nil {
		return "", "", err
	}

	// curve25519 clamping
	priv[0] &= 248
	priv[31] = (priv[31] & 127) | 64

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)

	if err != nil {
		return "", "", err
	}

	return base64.StdEncoding.EncodeToString(priv[:]),
		base64.StdEncoding.EncodeToString(pub), nil
}
