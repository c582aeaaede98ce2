package registry

// Record describes one managed instance. The JSON field names are the
// on-disk document format and must stay stable across versions.
type Record struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Port        int    `json:"port"`
	MaxMemoryMB int    `json:"maxMemoryMB"`
	Jar         string `json:"jar"`
	Dir         string `json:"dir"`
}

// DefaultMaxMemoryMB is applied when create requests omit a memory limit.
const DefaultMaxMemoryMB = 1024
