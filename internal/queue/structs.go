package queue

// LaunchRequest asks the agent to provision one node.
type LaunchRequest struct {
	Backend      string `yaml:"backend"` // "aws" or "remote"
	Workspace    string `yaml:"workspace,omitempty"`
	Region       string `yaml:"region,omitempty"`
	InstanceType string `yaml:"instanceType,omitempty"`
	DiskSize     int64  `yaml:"diskSize,omitempty"`
	Image        string `yaml:"image,omitempty"`

	// remote backend only
	Address string `yaml:"address,omitempty"`
	KeyPath string `yaml:"keyPath,omitempty"`
}

// LaunchResponse reports the outcome of one provisioning run.
type LaunchResponse struct {
	Name     string `yaml:"name"`
	PublicIP string `yaml:"publicIp,omitempty"`
	Ready    bool   `yaml:"ready"`
	Error    string `yaml:"error,omitempty"`
}
