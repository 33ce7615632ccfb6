// Package crawler implements the tender ingestion pipeline: listing
// extraction, date normalization, pagination, crawl politeness and the
// ordered ingest writer, orchestrated by Engine.
package crawler
