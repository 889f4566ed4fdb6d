package sweeper

import (
	"github.com/mattermost/mattermost/server/public/plugin"
	"github.com/mattermost/mattermost/server/public/pluginapi/cluster"
)

// Job represents a scheduled job that can be closed
type Job interface {
	Close() error
}

// JobScheduler schedules cluster-aware jobs
type JobScheduler interface {
	Schedule(jobID string, nextWaitInterval cluster.NextWaitInterval, callback func()) (Job, error)
}

// ClusterJobScheduler runs a job on exactly one node of a Mattermost cluster
type ClusterJobScheduler struct {
	api plugin.API
}

// NewClusterJobScheduler creates a scheduler backed by the Mattermost cluster job system
func NewClusterJobScheduler(api plugin.API) *ClusterJobScheduler {
	return &ClusterJobScheduler{api: api}
}

// Schedule creates a new cluster-aware scheduled job
func (s *ClusterJobScheduler) Schedule(jobID string, nextWaitInterval cluster.NextWaitInterval, callback func()) (Job, error) {
	return cluster.Schedule(s.api, jobID, nextWaitInterval, callback)
}
