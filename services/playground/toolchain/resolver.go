// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package toolchain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// DefaultRegistryURL is the public npm registry endpoint.
const DefaultRegistryURL = "https://registry.npmjs.org"

// DefaultResolveTimeout bounds a single registry metadata fetch.
const DefaultResolveTimeout = 30 * time.Second

// VersionIndex lists the versions published for the backend package.
//
// Implementations must be safe for concurrent use.
type VersionIndex interface {
	// Versions returns all published version strings, in no particular
	// order. Prerelease versions are included.
	Versions(ctx context.Context) ([]string, error)
}

// NPMRegistry reads package metadata from an npm-compatible registry.
//
// Description:
//
//	Fetches the abbreviated metadata document for the configured package
//	and reports its published versions. The abbreviated form is requested
//	via the install-v1 Accept header so the registry omits readme bodies
//	and other fields irrelevant to installation.
type NPMRegistry struct {
	// BaseURL is the registry root. Defaults to DefaultRegistryURL.
	BaseURL string

	// Package is the npm package name, e.g. "basedpyright".
	Package string

	// Client is the HTTP client used for metadata fetches. Defaults to a
	// client with DefaultResolveTimeout.
	Client *http.Client
}

// registryDocument is the subset of the abbreviated metadata payload the
// resolver consumes. Only the version keys matter.
type registryDocument struct {
	Versions map[string]json.RawMessage `json:"versions"`
}

// Versions implements VersionIndex.
//
// Description:
//
//	Performs GET {BaseURL}/{Package} and returns the keys of the
//	document's versions map.
//
// Errors:
//
//	Returns ErrNilContext if ctx is nil and ErrResolveFailed wrapping the
//	underlying cause for transport, status, or decode failures.
func (r *NPMRegistry) Versions(ctx context.Context) ([]string, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	base := r.BaseURL
	if base == "" {
		base = DefaultRegistryURL
	}
	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultResolveTimeout}
	}

	endpoint := strings.TrimRight(base, "/") + "/" + url.PathEscape(r.Package)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrResolveFailed, err)
	}
	req.Header.Set("Accept", "application/vnd.npm.install-v1+json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s metadata: %v", ErrResolveFailed, r.Package, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: registry returned status %d for %s: %s",
			ErrResolveFailed, resp.StatusCode, r.Package, string(body))
	}

	var doc registryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s metadata: %v", ErrResolveFailed, r.Package, err)
	}

	versions := make([]string, 0, len(doc.Versions))
	for v := range doc.Versions {
		versions = append(versions, v)
	}
	return versions, nil
}

// Resolver turns an optional requested version into a concrete one.
//
// Description:
//
//	When the caller names a version it is used verbatim; the installer
//	surfaces nonexistent versions as install failures. When no version is
//	requested the resolver picks the newest stable release from the
//	VersionIndex. A resolution failure never falls back to a cached or
//	hardcoded version.
//
// Thread Safety: safe for concurrent use if Index is.
type Resolver struct {
	// Index supplies the published versions. Required.
	Index VersionIndex

	// Limit caps the list returned by Stable. Defaults to
	// DefaultVersionLimit. The newest versions are kept.
	Limit int
}

// Resolve returns the version to install for a request.
//
// Inputs:
//
//	requested may be empty, meaning "newest stable".
//
// Errors:
//
//	ErrResolveFailed when the index cannot be read, ErrNoStableVersion
//	when the index has no stable release.
func (r *Resolver) Resolve(ctx context.Context, requested string) (string, error) {
	if ctx == nil {
		return "", ErrNilContext
	}
	if requested != "" {
		return requested, nil
	}

	stable, err := r.Stable(ctx)
	if err != nil {
		return "", err
	}
	if len(stable) == 0 {
		return "", fmt.Errorf("%w: index lists no stable release", ErrNoStableVersion)
	}
	return stable[0], nil
}

// Stable returns the stable (non-prerelease) versions, newest first.
//
// Description:
//
//	Versions containing a hyphen are prereleases under npm semver and are
//	excluded. Version strings that do not parse as semver are dropped.
//	The result is capped at Limit entries.
func (r *Resolver) Stable(ctx context.Context) ([]string, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	all, err := r.Index.Versions(ctx)
	if err != nil {
		if errors.Is(err, ErrResolveFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrResolveFailed, err)
	}

	stable := make([]string, 0, len(all))
	for _, v := range all {
		if strings.Contains(v, "-") {
			continue
		}
		if !semver.IsValid("v" + v) {
			continue
		}
		stable = append(stable, v)
	}

	sort.Slice(stable, func(i, j int) bool {
		return semver.Compare("v"+stable[i], "v"+stable[j]) > 0
	})

	limit := r.Limit
	if limit <= 0 {
		limit = DefaultVersionLimit
	}
	if len(stable) > limit {
		stable = stable[:limit]
	}
	return stable, nil
}
