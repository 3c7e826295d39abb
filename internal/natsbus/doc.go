// Copyright (c) Auterity Workflow Studio Authors.
// Licensed under the MIT License.

// Package natsbus bridges the in-process notification bus to NATS.
//
// Lifecycle events are published as JSON on "<prefix>.<eventType>"; external
// ethics checkers may report violations back on "<prefix>.violations". When no
// server URL is configured an embedded nats-server is started so a single
// process still exposes the subjects.
package natsbus
