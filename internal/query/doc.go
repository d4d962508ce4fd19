// Package query generates the ordered search query set for a popularity tier.
//
// Generation is a pure function of the tier range and a static table of
// topics and sort orders. The same inputs always produce the same queries
// in the same order, which lets a resumed process merge its persisted
// cursors with a freshly generated list by query ID.
//
// Tier ranges are built from adjacent thresholds of a descending list:
// the first tier is open-ended (stars:>=T0) and every later tier i covers
// stars:Ti..T(i-1)-1. Adjacent tiers therefore never overlap, and the union
// of all ranges is [lowest threshold, infinity).
package query
