package types

// Request is a single (method, path) unit of a batch submitted to a pool
type Request struct {
	Method string `json:"method" yaml:"method"`
	Path   string `json:"path" yaml:"path"`
}

// StatsRecord is the outcome of one completed request, successful or exhausted.
// Times are in microseconds; TimeConnect is -1 when the request reused an open session.
type StatsRecord struct {
	PoolID       int    `json:"pool"`
	ConnectionID int    `json:"connection"`
	Method       string `json:"method"`
	Resource     string `json:"resource"`
	Success      bool   `json:"success"`
	Retries      int    `json:"retries"`
	Size         int    `json:"size"`
	Status       int    `json:"status"`
	TimeConnect  int64  `json:"time_connect"`
	TimeData     int64  `json:"time_data"`
}

// NoConnect marks a record whose request did not have to open the session
const NoConnect int64 = -1

// NewFailedRecord returns the record of a request whose retry budget ran out
func NewFailedRecord(method, resource string, retries int) StatsRecord {
	return StatsRecord{
		Method:      method,
		Resource:    resource,
		Retries:     retries,
		TimeConnect: NoConnect,
	}
}

// IterationRecord ties a record to the driver iteration that produced it
type IterationRecord struct {
	Iteration int
	StatsRecord
}

// BatchFor builds a batch of n requests cycling through the given resources
func BatchFor(method string, resources []string, n int) []Request {
	if len(resources) == 0 || n <= 0 {
		return nil
	}
	batch := make([]Request, n)
	for i := range batch {
		batch[i] = Request{Method: method, Path: resources[i%len(resources)]}
	}
	return batch
}
