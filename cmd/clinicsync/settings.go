package main

type Settings struct {
	Port        int    `env:"PORT,default=8000"`
	BasePath    string `env:"BASE_PATH,default=/realtime"`
	LogEncoding string `env:"LOG_ENCODING,default=console"`
	LogLevel    string `env:"LOG_LEVEL,default=debug"`

	JWTSecret string   `env:"JWT_SECRET,required=true"`
	APIKeys   []string `env:"API_KEYS"`

	MongoURI      string `env:"MONGO_URI,default=mongodb://localhost:27017"`
	MongoDatabase string `env:"MONGO_DATABASE,default=clinicsync"`

	StoreTimeoutSeconds int `env:"STORE_TIMEOUT_SECONDS,default=3"`
	AuditQueueSize      int `env:"AUDIT_QUEUE_SIZE,default=256"`

	SweepIntervalMinutes      int `env:"SWEEP_INTERVAL_MINUTES,default=5"`
	PresenceStaleMinutes      int `env:"PRESENCE_STALE_MINUTES,default=30"`
	PresencePurgeDays         int `env:"PRESENCE_PURGE_DAYS,default=30"`
	NotificationRetentionDays int `env:"NOTIFICATION_RETENTION_DAYS,default=30"`
}
