// Package main is the sentinel executable.
//
// Architecture overview:
//   - Scheduler: `sentinel scheduler` runs three interval jobs. Domain sync pulls the managed domain list from the
//     admin API through the source client and reconciles the domains table with one bulk create, update, and remove
//     per cycle; after three consecutive fetch failures it reconciles from the last good in-memory snapshot instead.
//     The domain and token dispatchers page through their tables and publish fixed-size batches to domain-batches
//     and token-batches.
//   - Bus: topics map to Pub/Sub topics, Redis streams, or an in-process log (bus.driver). Each consumer group gets
//     every message once; warning workers use one group per browser variant (domain-sentinel-<variant>), price
//     workers share the updater group.
//   - Warning worker: `sentinel warning-worker --variant chrome` checks each domain of a batch with chromedp (or a
//     plain HTTP fetch when browser.driver is http), retries failed checks with doubling backoff, upserts the latest
//     result per (domain, variant), and publishes domain-warnings events for positive checks.
//   - Price worker: `sentinel price-worker` records one feed row per token in pending state, flips the batch to
//     processing, fetches prices concurrently, and settles each row as processed or failed. Processed rows update the
//     token price and publish token-price-updates events.
//   - Persistence: Postgres via pgx (storage.driver=postgres, `sentinel migrate` applies the schema) or memory for
//     local runs. Source snapshots can be archived to a local directory or GCS.
//
// Operational notes:
//   - Every role serves /health, /readyz, and /metrics on server.port. SIGINT and SIGTERM cancel the roles and drain
//     the HTTP server within server.shutdown_timeout.
//   - `sentinel all` runs the scheduler and both workers in one process, which with the memory bus and store is the
//     quickest way to exercise the whole pipeline locally.
//   - Configuration comes from an optional YAML file (--config) and SENTINEL_* env vars, for example
//     SENTINEL_BUS_DRIVER=redis or SENTINEL_SOURCE_API_KEY.
package main
