package receipts

import (
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/citadel-wallet/keysync/model/kel"
)

// Job solicits receipts of one event from a set of witnesses.
type Job struct {
	Prefix kel.Prefix
	// Sn and Digest pin the event; a zero Digest means the latest event at
	// the time the job starts.
	Sn     uint64
	Digest string
	// Witnesses to solicit; empty means all witnesses of the identifier.
	Witnesses kel.PrefixList
	// Replay maps witnesses to the first sn they are missing. Those events
	// are replayed to the witness before asking for a receipt.
	Replay map[kel.Prefix]uint64
	// Announce sends the event itself to every witness not replayed to otherwise.
	Announce bool

	catchUp  bool
	src      kel.Prefix
	toad     int
	total    int
	stage    stage
	deadline time.Time
	backoff  retry.Backoff
	attempts int
}

type stage int

const (
	stageNew stage = iota
	stageReplayed
	stageAwaiting
)

// Publish returns a job soliciting receipts of a newly accepted event from
// all its witnesses. Witnesses added by the event get the full log first.
func Publish(event *kel.Event) *Job {
	job := &Job{Prefix: event.Prefix, Sn: event.Sn, Digest: event.Digest, Announce: true}
	if len(event.Adds) > 0 {
		job.Replay = make(map[kel.Prefix]uint64, len(event.Adds))
		for _, added := range event.Adds {
			job.Replay[added] = 0
		}
	}
	return job
}

// CatchUp returns a job replaying the events a lagging witness misses and
// soliciting its receipt of the target.
func CatchUp(request *kel.WitnessUpdateRequest) *Job {
	return &Job{
		Prefix:    request.Prefix,
		Sn:        request.Sn,
		Digest:    request.Digest,
		Witnesses: kel.PrefixList{request.Witness},
		Replay:    map[kel.Prefix]uint64{request.Witness: request.WitnessSn + 1},
		catchUp:   true,
	}
}

// Resubmit returns a job re-soliciting receipts of the latest event of prefix
// from the given witnesses, or from all of them if none are given.
func Resubmit(prefix kel.Prefix, witnesses kel.PrefixList) *Job {
	return &Job{Prefix: prefix, Witnesses: witnesses, Announce: true}
}

func (j *Job) String() string {
	if j.Digest == "" {
		return fmt.Sprintf("receipts of %s latest", j.Prefix)
	}
	return fmt.Sprintf("receipts of %s sn=%d said=%s", j.Prefix, j.Sn, j.Digest)
}
