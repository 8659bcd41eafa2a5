// Package quotagate provides a declarative, multi-tier quota admission engine.
//
// QuotaGate decides whether requests may proceed against GCRA rate limits
// declared in pure YAML configuration, without writing any code. Limits are
// hierarchical: one request is checked against every route its context
// matches, and either consumes all of them atomically or none at all.
//
// # Quick Start
//
// Install QuotaGate:
//
//	go install github.com/kadirpekel/quotagate/cmd/quotagate@latest
//
// Create a limits configuration:
//
//	yaml
//	limits:
//	  - path: "user/{user_id}"
//	    tiers:
//	      - seconds: 15
//	        quota: 2
//	      - hours: 24
//	        quota: 100
//	  - path: "global"
//	    tiers:
//	      - seconds: 1
//	        quota: 20
//
//	store:
//	  backend: sql
//
// Start the server:
//
//	quotagate serve --config quotagate.yaml
//
// # Using as Go Library
//
// Import specific packages:
//
//	import (
//	    "github.com/kadirpekel/quotagate/pkg/gcra"
//	    "github.com/kadirpekel/quotagate/pkg/quota"
//	    "github.com/kadirpekel/quotagate/pkg/config"
//	)
//
// # Key Features
//
//   - **Declarative YAML**: Define complete quota hierarchies without code
//   - **GCRA Admission**: Smooth burst-tolerant rate limiting per tier
//   - **All-or-Nothing**: Multi-route evaluation commits atomically
//   - **Pluggable Stores**: Memory, SQL (sqlite/postgres/mysql), Redis
//   - **Denylist**: Block principals ahead of quota evaluation
//   - **HTTP + MCP**: REST endpoints and MCP tools over one engine
//   - **Observability**: Prometheus metrics and OpenTelemetry tracing
//
// # Architecture
//
// QuotaGate evaluates every request context against the declared routes:
//
//	Client → HTTP/MCP/CLI → Coordinator → Route Table → GCRA Tiers → Store
//
// The store serializes concurrent admissions per cursor row with conditional
// writes, so racing callers cannot overspend a quota.
//
// # Alpha Status
//
// QuotaGate is currently in alpha development. APIs may change, and some
// features are experimental. We welcome feedback and contributions!
//
// # Documentation
//
// For complete documentation, see:
//   - [README](https://github.com/kadirpekel/quotagate/blob/main/README.md)
//   - [API Reference](https://godoc.org/github.com/kadirpekel/quotagate)
//
// # License
//
// Apache-2.0 - See LICENSE for details.
package quotagate
