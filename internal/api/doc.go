// Package api hosts the path query HTTP server. Notable routes:
//   - GET / returns the number of loaded articles.
//   - POST /bfs and /dfs take "<start>\n<end>" and answer newline-joined titles,
//     204 when the target is unreachable and 404 for unknown titles.
//   - POST /search returns up to ten titles containing the body, shortest first.
//   - GET /healthz and /metrics for liveness checks and Prometheus scraping.
package api
