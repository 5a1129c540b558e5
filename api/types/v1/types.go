// Package types defines the JSON types of the softline HTTP API and event stream.
package types

// HealthResponse is the response from /api/v1/health
type HealthResponse struct {
	Status string `json:"status"`
	Uptime int64  `json:"uptime"`
}

// StatusResponse is the response from /api/v1/status
type StatusResponse struct {
	Status      string `json:"status"`
	Description string `json:"description"`
	Phase       string `json:"phase"`
	Running     bool   `json:"running"`
}

// CallSession is the current or last call, returned from /api/v1/call
type CallSession struct {
	PeerID               string `json:"peer_id"`
	EngineState          string `json:"engine_state"`
	State                string `json:"state"`
	EndReason            string `json:"end_reason"`
	EndReasonDescription string `json:"end_reason_description,omitempty"`
	Encrypted            bool   `json:"encrypted"`
	AuthToken            string `json:"auth_token,omitempty"`
	AuthTokenVerified    bool   `json:"auth_token_verified"`
	Quality              string `json:"quality"`
	Duration             int64  `json:"duration"`
	StartedAt            string `json:"started_at,omitempty"`
	Incoming             bool   `json:"incoming"`
	Answered             bool   `json:"answered"`
	InCall               bool   `json:"in_call"`
}

// ConnectionDetails is returned from /api/v1/connection
type ConnectionDetails struct {
	Quality            string  `json:"quality"`
	Codec              string  `json:"codec,omitempty"`
	IceState           string  `json:"ice_state,omitempty"`
	UploadBandwidth    float64 `json:"upload_kbps"`
	DownloadBandwidth  float64 `json:"download_kbps"`
	Jitter             int     `json:"jitter_ms"`
	PacketLossPerMille int     `json:"packet_loss_per_mille"`
	LatePackets        int64   `json:"late_packets"`
	RoundTripDelay     int     `json:"round_trip_ms"`
	EndedCall          bool    `json:"ended_call"`
	Available          bool    `json:"available"`
}

// Event is one broadcast notification on the event stream and MQTT.
type Event struct {
	Kind       string             `json:"kind"`
	Seq        uint64             `json:"seq"`
	Time       string             `json:"time"`
	Status     string             `json:"status,omitempty"`
	Call       *CallSession       `json:"call,omitempty"`
	Connection *ConnectionDetails `json:"connection,omitempty"`
}

// CallLogEntry is one finished call, returned from /api/v1/calls
type CallLogEntry struct {
	ID        string `json:"id"`
	Peer      string `json:"peer"`
	Incoming  bool   `json:"incoming"`
	Answered  bool   `json:"answered"`
	Missed    bool   `json:"missed"`
	EndReason string `json:"end_reason"`
	EndedAt   string `json:"ended_at"`
	Duration  int64  `json:"duration"`
}

// CallLogResponse is the response from /api/v1/calls
type CallLogResponse struct {
	Calls  []CallLogEntry `json:"calls"`
	Missed int            `json:"missed"`
}

// CallRequest is the body of POST /api/v1/call
type CallRequest struct {
	PeerID string `json:"peer_id"`
}

// StartRequest is the body of POST /api/v1/start
type StartRequest struct {
	CallID string `json:"call_id,omitempty"`
}

// VerifyRequest is the body of POST /api/v1/verify
type VerifyRequest struct {
	Verified bool `json:"verified"`
}

// VolumesRequest is the body of POST /api/v1/volumes
type VolumesRequest struct {
	Speaker    float64 `json:"speaker"`
	Microphone float64 `json:"microphone"`
}

// TelephonyRequest is the body of POST /api/v1/telephony
type TelephonyRequest struct {
	State string `json:"state"`
}

// CommandResponse acknowledges an accepted command.
type CommandResponse struct {
	Accepted bool `json:"accepted"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}
