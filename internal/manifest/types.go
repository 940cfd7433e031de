package manifest

type SystemInfo struct {
	Hostname string `yaml:"hostname"`
	OS       string `yaml:"os"`
	Arch     string `yaml:"arch"`
}

type SourceEntry struct {
	Name       string `yaml:"name"`
	Engine     string `yaml:"engine"`
	Database   string `yaml:"database"`
	File       string `yaml:"file"`
	Size       int64  `yaml:"size"`
	Blake3Hash string `yaml:"blake3_hash"`
}

// Snapshot describes one captured generation. File paths are relative to the
// snapshot's parent directory so the manifest stays valid when the dumps
// location is moved or pulled from the remote cache.
type Snapshot struct {
	Name        string        `yaml:"name"`
	Key         string        `yaml:"key"`
	MultiSource bool          `yaml:"multi_source"`
	Encrypted   bool          `yaml:"encrypted,omitempty"`
	Datetime    int64         `yaml:"datetime"`
	System      SystemInfo    `yaml:"system"`
	Sources     []SourceEntry `yaml:"sources"`
}
