// Package protocol defines the wire types shared by the dashboard's
// WebSocket endpoints: the control socket, the terminal socket, and the
// file transfer socket. Payloads are JSON text frames; raw terminal I/O
// and transfer chunks are binary frames.
package protocol

import "encoding/json"

// Pages the control socket dispatches on. Anything else is ignored.
const (
	PageMain       = "/"
	PageProcess    = "/process"
	PageSoftware   = "/software"
	PageManagement = "/management"
	PageService    = "/service"
	PageBrowser    = "/browser"
	PageLogin      = "/login"
)

// TokenPrefix starts the first text frame on the terminal socket when
// password protection is enabled; the token follows immediately.
const TokenPrefix = "token"

// ResizePrefix starts a terminal text frame carrying a TTYSize payload.
const ResizePrefix = "size"

// ChunkSize is the maximum byte length of one binary transfer frame.
// The final chunk of a transfer may be shorter.
const ChunkSize = 1_000_000

// Request is one client intent on the control socket: a page switch when
// Cmd is empty, or a command directed at the active page otherwise.
type Request struct {
	Page  string   `json:"page"`
	Token string   `json:"token"`
	Cmd   string   `json:"cmd"`
	Args  []string `json:"args"`
}

// FileRequest is one command on the file transfer socket.
type FileRequest struct {
	Cmd   string `json:"cmd"`
	Path  string `json:"path"`
	Arg   string `json:"arg"`
	Token string `json:"token"`
}

// TTYSize is the resize payload following a ResizePrefix frame.
type TTYSize struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// FileSize announces a download: the client should expect Size binary chunks.
type FileSize struct {
	Size int `json:"size"`
}

// UploadFinished acknowledges a committed upload.
type UploadFinished struct {
	Finished bool `json:"finished"`
}

// TokenError tells the client its token was rejected and a login is needed.
type TokenError struct {
	Error bool `json:"error"`
}

// ParseRequest decodes a control socket text frame.
func ParseRequest(data []byte) (Request, error) {
	var req Request
	err := json.Unmarshal(data, &req)
	return req, err
}

// ParseFileRequest decodes a file socket text frame.
func ParseFileRequest(data []byte) (FileRequest, error) {
	var req FileRequest
	err := json.Unmarshal(data, &req)
	return req, err
}
