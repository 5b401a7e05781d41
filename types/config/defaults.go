package config

const (
	DefaultWorkerCount     = 5
	DefaultEnqueueInterval = 15
	DefaultStorageDriver   = Postgres
	DefaultBatchSize       = 100
	DefaultCronJobInterval = 60
	DefaultJobQueue        = "notifire_jobs"
)
