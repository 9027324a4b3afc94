package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/usr/local/var/kiroku/data"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kiroku/data/db/documents.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/kiroku/data/indices/bleve"
	}
	if cfg.Processing.MaxLongEdgePx == 0 {
		cfg.Processing.MaxLongEdgePx = 2500
	}
	if cfg.Processing.LowMemLongEdgePx == 0 {
		cfg.Processing.LowMemLongEdgePx = 2000
	}
	if cfg.Processing.JPEGQuality == 0 {
		cfg.Processing.JPEGQuality = 90
	}
	if cfg.Processing.LowMemJPEGQuality == 0 {
		cfg.Processing.LowMemJPEGQuality = 82
	}
	if cfg.Processing.ThumbnailLongEdgePx == 0 {
		cfg.Processing.ThumbnailLongEdgePx = 360
	}
	if cfg.Processing.Parallelism == 0 {
		cfg.Processing.Parallelism = 4
	}
	if cfg.Processing.ScratchKeep == 0 {
		cfg.Processing.ScratchKeep = 50
	}
	if cfg.Processing.ScratchMaxAgeHours == 0 {
		cfg.Processing.ScratchMaxAgeHours = 24
	}
	if cfg.Sync.PullIntervalSeconds == 0 {
		cfg.Sync.PullIntervalSeconds = 300
	}
	if cfg.Sync.MaxRetries == 0 {
		cfg.Sync.MaxRetries = 5
	}
	if cfg.Sync.QueueSize == 0 {
		cfg.Sync.QueueSize = 128
	}
	if cfg.Pagination.DefaultPageSize == 0 {
		cfg.Pagination.DefaultPageSize = 20
	}
	if cfg.Pagination.MaxPageSize == 0 {
		cfg.Pagination.MaxPageSize = 100
	}
	if cfg.Pagination.WindowPageSize == 0 {
		cfg.Pagination.WindowPageSize = 20
	}
	if cfg.Pagination.WindowMaxItems == 0 {
		cfg.Pagination.WindowMaxItems = 60
	}
}
