package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
	KafkaFetchBackoff = time.Second
)

const (
	CacheKeyPrefixSite = "site:"
	CacheKeyPrefixGeo  = "geo:"
)

const (
	DefaultMongoDBName        = "pixelgate"
	ContentVariantsCollection = "content_variants"
)

const (
	ShutdownTimeout       = 10 * time.Second
	DBConnectTimeout      = 30 * time.Second
	DefaultPersistTimeout = 5 * time.Second
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)

const (
	ServiceCollector  = "collector-service"
	ServiceManagement = "management-service"
)

// UnknownValue is reported for any signal that could not be resolved.
const UnknownValue = "Unknown"
