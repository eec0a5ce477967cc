package ingest

import "encoding/json"

// LogsNotification is the flattened view of one JSON-RPC logsNotification.
type LogsNotification struct {
	Subscription int64
	Signature    string
	Logs         []string
	Err          interface{}
	Slot         int64
}

// rawLogsNotification mirrors the wire shape.
type rawLogsNotification struct {
	Method string `json:"method"`
	Params *struct {
		Subscription int64 `json:"subscription"`
		Result       struct {
			Context *struct {
				Slot int64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Signature string      `json:"signature"`
				Logs      []string    `json:"logs"`
				Err       interface{} `json:"err"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

// parseLogsNotification decodes a wallet feed frame. Returns false for
// frames that are not logs notifications.
func parseLogsNotification(raw []byte) (LogsNotification, bool) {
	var n rawLogsNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return LogsNotification{}, false
	}
	if n.Method != "logsNotification" || n.Params == nil {
		return LogsNotification{}, false
	}

	out := LogsNotification{
		Subscription: n.Params.Subscription,
		Signature:    n.Params.Result.Value.Signature,
		Logs:         n.Params.Result.Value.Logs,
		Err:          n.Params.Result.Value.Err,
	}
	if n.Params.Result.Context != nil {
		out.Slot = n.Params.Result.Context.Slot
	}
	return out, true
}
