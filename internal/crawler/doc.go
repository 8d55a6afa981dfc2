// Package crawler implements the crawl engine used by the webcrawler: a
// recursive fan-out over discovered links bounded by depth, a wall-clock
// deadline and ignore patterns, with every URL parsed at most once per crawl
// and per-page word counts merged into a single ranked result.
package crawler
