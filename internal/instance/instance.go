package instance

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"strings"

	"github.com/pkg/errors"

	"fognode/internal/naming"
)

// Record holds the identity and state of one provisioned node. The name is
// assigned once at construction and never changes; everything derived from it
// (working directory, key file, cloud resource names) is namespaced by it.
type Record struct {
	name       string
	workspace  string
	workingDir string

	sshKeyPath *string
	publicIP   *string

	cloud *CloudMeta
	ready *Gate
}

// CloudMeta is the provider-specific part of a record, present only when the
// node was provisioned through a cloud backend.
type CloudMeta struct {
	Region          string
	InstanceType    string
	DiskSize        int64
	Image           string
	SecurityGroupID string
	InstanceID      string
}

type Config struct {
	Workspace      string
	WorkingDirBase string
}

// New creates a record, assigns its unique name from gen and creates the
// local working directory.
func New(cfg Config, gen naming.Generator) (*Record, error) {
	name := gen()

	workingDir := strings.TrimSuffix(cfg.WorkingDirBase, "/") + "/" + name + "/"

	if err := os.MkdirAll(workingDir, 0755); err != nil {
		return nil, errors.Wrap(err, "create working dir")
	}

	return &Record{
		name:       name,
		workspace:  cfg.Workspace,
		workingDir: workingDir,
		ready:      NewGate(),
	}, nil
}

func (r *Record) Name() string {
	return r.name
}

func (r *Record) Workspace() string {
	return r.workspace
}

func (r *Record) WorkingDir() string {
	return r.workingDir
}

func (r *Record) SSHKeyPath() *string {
	return r.sshKeyPath
}

func (r *Record) PublicIP() *string {
	return r.publicIP
}

func (r *Record) Cloud() *CloudMeta {
	return r.cloud
}

// Ready is the readiness gate bound to this record.
func (r *Record) Ready() *Gate {
	return r.ready
}

func (r *Record) SetSSHKeyPath(path string) {
	r.sshKeyPath = &path
}

// SetPublicIP records the node address. It transitions nil to non-nil at
// most once; a second assignment is rejected.
func (r *Record) SetPublicIP(ip string) error {
	if r.publicIP != nil {
		return errors.Errorf("public ip already set to %s", *r.publicIP)
	}

	r.publicIP = &ip
	return nil
}

func (r *Record) SetCloud(meta *CloudMeta) {
	r.cloud = meta
}

// Info is the persisted JSON snapshot of a record.
type Info struct {
	Name         string  `json:"name"`
	ROSWorkspace string  `json:"ros_workspace"`
	WorkingDir   string  `json:"working_dir"`
	SSHKeyPath   *string `json:"ssh_key_path"`
	PublicIP     *string `json:"public_ip"`

	// cloud backend only
	Region       string `json:"ec2_region,omitempty"`
	InstanceType string `json:"ec2_instance_type,omitempty"`
	DiskSize     int64  `json:"disk_size,omitempty"`
	Image        string `json:"aws_ami_image,omitempty"`
	InstanceID   string `json:"ec2_instance_id,omitempty"`
}

func (r *Record) Info() Info {
	info := Info{
		Name:         r.name,
		ROSWorkspace: r.workspace,
		WorkingDir:   r.workingDir,
		SSHKeyPath:   r.sshKeyPath,
		PublicIP:     r.publicIP,
	}

	if r.cloud != nil {
		info.Region = r.cloud.Region
		info.InstanceType = r.cloud.InstanceType
		info.DiskSize = r.cloud.DiskSize
		info.Image = r.cloud.Image
		info.InstanceID = r.cloud.InstanceID
	}

	return info
}

// InfoPath is where the snapshot of this record lives on disk.
func (r *Record) InfoPath() string {
	return r.workingDir + "info"
}

// Persist writes the current snapshot to <workingDir>/info.
func (r *Record) Persist() error {
	data, err := json.Marshal(r.Info())

	if err != nil {
		return errors.Wrap(err, "marshal info")
	}

	if err := ioutil.WriteFile(r.InfoPath(), data, 0644); err != nil {
		return errors.Wrap(err, "write info")
	}

	return nil
}

// Load reads a snapshot written by Persist.
func Load(path string) (Info, error) {
	var info Info

	data, err := ioutil.ReadFile(path)

	if err != nil {
		return info, errors.Wrap(err, "read info")
	}

	if err := json.Unmarshal(data, &info); err != nil {
		return info, errors.Wrap(err, "parse info")
	}

	return info, nil
}
