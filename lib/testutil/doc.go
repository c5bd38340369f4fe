// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireClosed], and [RequireEventually]
// encapsulate the timeout safety valve pattern (select with a
// time.After fallback) so individual tests never call time.After
// directly. These helpers are the only place in the test suite where
// real wall-clock timeouts are used. Timer-driven production behavior
// is tested through lib/clock.Fake instead.
//
// All helpers call t.Fatalf on failure rather than returning errors.
package testutil
