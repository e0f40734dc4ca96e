package registration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/morezero/controlplane-coordinator/pkg/commsutil"
)

// configPushRequest is the payload sent to worker instances on a push.
type configPushRequest struct {
	App      string          `json:"app"`
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	Revision int             `json:"revision"`
}

// configPushAck is the reply a worker sends after applying a push.
type configPushAck struct {
	Applied  bool   `json:"applied"`
	Instance string `json:"instance,omitempty"`
}

// pushConfig forwards a config value to the app's worker request channel
// over the bridge and waits for the first acknowledgement. Returns false
// when pushing is not configured.
func (c *Coordinator) pushConfig(ctx context.Context, app, key string, value json.RawMessage, revision int) (bool, error) {
	if c.bridge == nil {
		return false, nil
	}

	subject := commsutil.BuildWorkerSubject(app)
	timeout := time.Duration(c.config.WorkerTimeoutSeconds) * time.Second
	req := configPushRequest{App: app, Key: key, Value: value, Revision: revision}

	op := func(ctx context.Context) (interface{}, error) {
		var ack configPushAck
		if err := c.bridge.InvokeAs(ctx, subject, req, &ack, timeout); err != nil {
			return nil, err
		}
		return ack, nil
	}

	var res interface{}
	var err error
	if c.worker != nil {
		res, err = c.worker.Execute(ctx, op)
	} else {
		res, err = op(ctx)
	}
	if err != nil {
		return false, fmt.Errorf("push config %s/%s: %w", app, key, err)
	}

	ack := res.(configPushAck)
	return ack.Applied, nil
}
