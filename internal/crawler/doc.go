// Package crawler defines the vocabulary shared by the crawl engine: frontier
// entries, fetch outcomes, artifacts, conditional and content records, the
// error taxonomy, URL canonicalisation and the collaborator interfaces that
// the frontier, dispatcher, pipeline and driver are wired through.
package crawler
