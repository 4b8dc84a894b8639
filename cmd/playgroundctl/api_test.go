// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DetachHead/basedpyright-playground/services/playground/datatypes"
)

func TestAPIClient_CreateAndCheckRoundTrip(t *testing.T) {
	var gotCreate datatypes.CreateSessionRequest
	var gotCode datatypes.CodeRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/sessions":
			json.NewDecoder(r.Body).Decode(&gotCreate)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(datatypes.SessionResponse{
				SessionID: "sess-1", Version: "1.29.5",
			})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/sessions/sess-1/diagnostics":
			json.NewDecoder(r.Body).Decode(&gotCode)
			json.NewEncoder(w).Encode(datatypes.DiagnosticsResponse{
				Diagnostics: []json.RawMessage{json.RawMessage(`{"severity":1,"message":"boom"}`)},
			})
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/v1/sessions/"):
			json.NewEncoder(w).Encode(map[string]string{"status": "closed"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := newAPIClient(server.URL)
	ctx := context.Background()

	sess, err := createSession(ctx, client, datatypes.CreateSessionRequest{TypeCheckingMode: "strict"})
	if err != nil {
		t.Fatalf("createSession failed: %v", err)
	}
	if sess.SessionID != "sess-1" {
		t.Errorf("SessionID = %q", sess.SessionID)
	}
	if gotCreate.TypeCheckingMode != "strict" {
		t.Errorf("server saw mode %q, want strict", gotCreate.TypeCheckingMode)
	}

	diags, err := fetchDiagnostics(ctx, client, sess.SessionID, "x: int = ''")
	if err != nil {
		t.Fatalf("fetchDiagnostics failed: %v", err)
	}
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(diags))
	}
	if gotCode.Code != "x: int = ''" {
		t.Errorf("server saw code %q", gotCode.Code)
	}

	if err := client.deletePath(ctx, "/v1/sessions/"+sess.SessionID); err != nil {
		t.Errorf("deletePath failed: %v", err)
	}
}

func TestAPIClient_SurfacesServerErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(datatypes.ErrorResponse{Error: "get session: session not found"})
	}))
	defer server.Close()

	client := newAPIClient(server.URL)
	err := client.getJSON(context.Background(), "/v1/sessions/nope", &datatypes.SessionResponse{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "session not found") {
		t.Errorf("error should carry the server message, got: %v", err)
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error should carry the status, got: %v", err)
	}
}

func TestAPIClient_UnreachableServer(t *testing.T) {
	client := newAPIClient("http://127.0.0.1:1")
	err := client.getJSON(context.Background(), "/v1/versions", &datatypes.VersionsResponse{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "could not reach the playground server") {
		t.Errorf("unexpected error text: %v", err)
	}
}

func TestAPIClient_TrimsTrailingSlash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/versions" {
			t.Errorf("path = %q, want /v1/versions", r.URL.Path)
		}
		json.NewEncoder(w).Encode(datatypes.VersionsResponse{Versions: []string{"1.29.5"}})
	}))
	defer server.Close()

	client := newAPIClient(server.URL + "/")
	var resp datatypes.VersionsResponse
	if err := client.getJSON(context.Background(), "/v1/versions", &resp); err != nil {
		t.Fatalf("getJSON failed: %v", err)
	}
	if len(resp.Versions) != 1 {
		t.Errorf("versions = %v", resp.Versions)
	}
}
