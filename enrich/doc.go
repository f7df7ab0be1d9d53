// Package enrich backfills derived metadata for stored messages. It embeds
// message content, produces summaries, and embeds those summaries, either
// asynchronously on worker pools as messages arrive or in one synchronous
// pass over the whole forest.
package enrich
