// Package worker implements the Upload Worker (C5): the durable state
// machine that turns a queued upload_requests row into a file on Commons
// (or a terminal failure), plus the driver loop that pulls jobs off
// internal/pgdb's exactly-once lease.
package worker

import (
	"context"

	"gitlab.com/tozd/go/mediawiki"
)

// UploadParams is everything WikiClient.UploadFile needs to perform one
// upload.
type UploadParams struct {
	Filename     string
	SourceURL    string
	Wikitext     string
	Labels       map[string]string
	SDC          []mediawiki.Statement
	AccessToken  string
	AccessSecret string
	Username     string
	EditSummary  string
}

// UploadResult is what a successful upload reports back.
type UploadResult struct {
	Title string
	URL   string
}

// DuplicatePage is an existing Commons File page whose content hash matches
// a just-downloaded image, per FindDuplicates.
type DuplicatePage struct {
	Title string
	URL   string // file page URL (/wiki/File:…), not the direct file URL
}

// WikiClient is the boundary to MediaWiki: everything the worker needs to
// stage, check, and commit a file onto Commons, isolated behind an
// interface so the state machine can be tested without a live wiki.
type WikiClient interface {
	// CheckTitleBlacklisted reports whether filename is rejected by a title
	// blacklist before any upload attempt is made.
	CheckTitleBlacklisted(ctx context.Context, filename string) (blacklisted bool, reason string, err error)

	// FindDuplicates returns every File page already on Commons whose
	// content hash equals sha1, so the worker can refuse to re-upload
	// byte-identical content unless the submitter asserted a copyright
	// override.
	FindDuplicates(ctx context.Context, sha1 string) ([]DuplicatePage, error)

	// UploadFile stages and commits sourceURL's bytes (already downloaded
	// and hashed by the caller) onto Commons under params.Filename.
	UploadFile(ctx context.Context, localPath string, params UploadParams) (*UploadResult, error)
}

// HashLockError is returned by WikiClient.UploadFile (or raised internally
// by the worker before ever calling it) when another in-flight upload in
// this process already holds the lock for the same content hash — two
// uploads of byte-identical content must not race each other onto Commons.
type HashLockError struct {
	Hash string
}

func (e *HashLockError) Error() string {
	return "hash " + e.Hash + " is locked by another worker"
}
