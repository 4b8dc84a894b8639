// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// JSONRPCVersion is the JSON-RPC version used by LSP.
const JSONRPCVersion = "2.0"

// codeConnectionClosed is the error code used when pending requests are
// cancelled because the connection went away.
const codeConnectionClosed = -32099

// codeMethodNotFound answers server-initiated requests the playground
// does not implement.
const codeMethodNotFound = -32601

// =============================================================================
// JSON-RPC MESSAGE TYPES
// =============================================================================

// Request represents a JSON-RPC request.
type Request struct {
	// JSONRPC is the protocol version, always "2.0".
	JSONRPC string `json:"jsonrpc"`

	// ID is the request identifier. Omit for notifications.
	ID int64 `json:"id,omitempty"`

	// Method is the method to invoke.
	Method string `json:"method"`

	// Params contains the method parameters.
	Params interface{} `json:"params,omitempty"`
}

// Response represents a JSON-RPC response.
type Response struct {
	// JSONRPC is the protocol version, always "2.0".
	JSONRPC string `json:"jsonrpc"`

	// ID is the request identifier this response corresponds to.
	ID int64 `json:"id"`

	// Result contains the method result (mutually exclusive with Error).
	Result json.RawMessage `json:"result,omitempty"`

	// Error contains error information (mutually exclusive with Result).
	Error *ResponseError `json:"error,omitempty"`
}

// ResponseError represents a JSON-RPC error.
type ResponseError struct {
	// Code is the error code.
	Code int `json:"code"`

	// Message is a short description of the error.
	Message string `json:"message"`

	// Data contains additional error information.
	Data interface{} `json:"data,omitempty"`
}

// Notification represents a JSON-RPC notification (no ID, no response).
type Notification struct {
	// JSONRPC is the protocol version, always "2.0".
	JSONRPC string `json:"jsonrpc"`

	// Method is the method to invoke.
	Method string `json:"method"`

	// Params contains the method parameters.
	Params interface{} `json:"params,omitempty"`
}

// inboundMessage is the envelope for anything the worker sends us: a
// response to one of our requests, a server-initiated request, or a
// notification.
type inboundMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// NotificationHandler receives server-initiated notifications, e.g.
// textDocument/publishDiagnostics.
type NotificationHandler func(method string, params json.RawMessage)

// =============================================================================
// PROTOCOL HANDLER
// =============================================================================

// Protocol handles JSON-RPC communication over the worker's stdio.
//
// Description:
//
//	Implements the LSP base protocol using Content-Length headers.
//	Manages request/response correlation, forwards notifications to a
//	handler, and answers server-initiated requests with method-not-found
//	so the worker never blocks waiting on the playground.
//
// Thread Safety:
//
//	Safe for concurrent use. Multiple goroutines can send requests
//	and notifications simultaneously.
type Protocol struct {
	reader    *bufio.Reader
	writer    io.Writer
	writeMu   sync.Mutex
	nextID    int64
	pending   map[int64]chan Response
	pendingMu sync.Mutex
	notify    NotificationHandler
	closed    int32 // atomic: 1 if closed
}

// NewProtocol creates a new protocol handler.
//
// Inputs:
//
//	r - Reader for worker responses (stdout pipe)
//	w - Writer for client requests (stdin pipe)
func NewProtocol(r io.Reader, w io.Writer) *Protocol {
	var reader *bufio.Reader
	if r != nil {
		reader = bufio.NewReader(r)
	}
	return &Protocol{
		reader:  reader,
		writer:  w,
		pending: make(map[int64]chan Response),
	}
}

// SetNotificationHandler registers the handler for server notifications.
//
// Must be called before ReadLoop starts; the field is not guarded.
func (p *Protocol) SetNotificationHandler(fn NotificationHandler) {
	p.notify = fn
}

// SendRequest sends a request and waits for the response.
//
// Description:
//
//	Sends a JSON-RPC request to the worker and blocks until a response
//	arrives or the context is cancelled.
//
// Outputs:
//
//	*Response - The worker's response.
//	error - ErrWorkerNotRunning, ErrRequestTimeout, or an *LSPError the
//	worker returned.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (p *Protocol) SendRequest(ctx context.Context, method string, params interface{}) (*Response, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if atomic.LoadInt32(&p.closed) == 1 {
		return nil, ErrWorkerNotRunning
	}

	id := atomic.AddInt64(&p.nextID, 1)

	req := Request{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}

	respCh := make(chan Response, 1)
	p.pendingMu.Lock()
	p.pending[id] = respCh
	p.pendingMu.Unlock()

	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
	}()

	if err := p.writeMessage(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrRequestTimeout, method, ctx.Err())
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, &LSPError{
				Code:    resp.Error.Code,
				Message: resp.Error.Message,
				Data:    resp.Error.Data,
			}
		}
		return &resp, nil
	}
}

// SendNotification sends a notification (no response expected).
//
// Thread Safety:
//
//	Safe for concurrent use.
func (p *Protocol) SendNotification(method string, params interface{}) error {
	if atomic.LoadInt32(&p.closed) == 1 {
		return ErrWorkerNotRunning
	}

	notif := Notification{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  params,
	}
	return p.writeMessage(notif)
}

// writeMessage marshals and writes a message with Content-Length header.
func (p *Protocol) writeMessage(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))
	if _, err := p.writer.Write([]byte(header)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := p.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// ReadLoop reads messages from the worker and dispatches them.
//
// Description:
//
//	Runs until the connection closes or ctx is cancelled. Responses are
//	matched to pending requests; notifications go to the registered
//	handler. Call this in a goroutine after starting the worker.
//
// Thread Safety:
//
//	Must be called from a single goroutine. Safe to run while other
//	goroutines call SendRequest/SendNotification.
func (p *Protocol) ReadLoop(ctx context.Context) error {
	if p.reader == nil {
		return fmt.Errorf("no reader configured")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := p.readMessage()
		if err != nil {
			// Closed wins over EOF: teardown closes the protocol before
			// the pipes, so a post-close EOF is not a crash.
			if atomic.LoadInt32(&p.closed) == 1 {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return ErrWorkerCrashed
			}
			return fmt.Errorf("read: %w", err)
		}

		p.handleMessage(msg)
	}
}

// readMessage reads a single Content-Length framed message.
func (p *Protocol) readMessage() (json.RawMessage, error) {
	var contentLength int

	for {
		line, err := p.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)

		// Empty line marks end of headers
		if line == "" {
			break
		}

		if strings.HasPrefix(line, "Content-Length:") {
			lenStr := strings.TrimSpace(strings.TrimPrefix(line, "Content-Length:"))
			var err error
			contentLength, err = strconv.Atoi(lenStr)
			if err != nil {
				return nil, fmt.Errorf("invalid Content-Length value %q: %w", lenStr, err)
			}
			if contentLength < 0 {
				return nil, fmt.Errorf("negative Content-Length: %d", contentLength)
			}
		}
		// Ignore other headers (Content-Type, etc.)
	}

	if contentLength == 0 {
		return nil, fmt.Errorf("missing or zero Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(p.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return body, nil
}

// handleMessage dispatches a received message.
func (p *Protocol) handleMessage(raw json.RawMessage) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	switch {
	case msg.Method == "" && msg.ID != 0:
		// Response to one of our requests.
		p.pendingMu.Lock()
		ch, ok := p.pending[msg.ID]
		p.pendingMu.Unlock()

		if ok {
			// Non-blocking send in case channel is full
			select {
			case ch <- Response{JSONRPC: msg.JSONRPC, ID: msg.ID, Result: msg.Result, Error: msg.Error}:
			default:
			}
		}

	case msg.Method != "" && msg.ID != 0:
		// Server-initiated request. The playground implements none of
		// them, but an unanswered request would stall the worker.
		_ = p.writeMessage(Response{
			JSONRPC: JSONRPCVersion,
			ID:      msg.ID,
			Error: &ResponseError{
				Code:    codeMethodNotFound,
				Message: fmt.Sprintf("method %s not supported", msg.Method),
			},
		})

	default:
		if p.notify != nil && msg.Method != "" {
			p.notify(msg.Method, msg.Params)
		}
	}
}

// Close marks the protocol as closed.
//
// Description:
//
//	Prevents further sends and cancels all pending requests with an
//	error response. Does not close the underlying reader/writer.
//
// Thread Safety:
//
//	Safe for concurrent use; repeated calls are no-ops for requests
//	already cancelled.
func (p *Protocol) Close() {
	atomic.StoreInt32(&p.closed, 1)

	// The channels stay open: each has capacity 1 and its reader owns it,
	// so a racing ReadLoop dispatch falls into the non-blocking default
	// instead of panicking on a closed channel.
	p.pendingMu.Lock()
	for id, ch := range p.pending {
		select {
		case ch <- Response{
			JSONRPC: JSONRPCVersion,
			ID:      id,
			Error: &ResponseError{
				Code:    codeConnectionClosed,
				Message: "worker connection closed",
			},
		}:
		default:
		}
		delete(p.pending, id)
	}
	p.pendingMu.Unlock()
}
