/*
Package aggregator implements the windowed metric-sample aggregation
engine at the heart of Loadscope.

# Model

Producers push samples attributed to entities (partitions, brokers).
Samples land in fixed-width time windows; each (entity, window) cell
keeps one running reduction per registered metric (LATEST, MAX, AVG or
SUM, see pkg/metricdef). The greatest window holding any sample is the
active window: it is still filling up and is never reported.

Memory stays bounded because only a sliding horizon of windows is
retained:

	NumWindows reportable + MaxExtraWindowsKept spares + 1 active

When a sample rolls a newer window over, windows beyond that horizon
are evicted, oldest first.

# Reading results

Aggregate returns, per qualifying entity, one value vector per metric
across the most recent NumWindows valid windows, most recent first.
Cells without enough samples are filled by a fixed chain of fallbacks
(own partial data, neighbor average, previous period, forced values)
and tagged with the Extrapolation that produced them.

Completeness answers the prior question: is there enough evidence to
act? It reports per-window coverage ratios and the windows, entities
and entity groups that clear the caller's thresholds. Callers are
expected to check completeness before trusting an aggregation.

# Consistency

Every mutation that can change an already-reported aggregate (window
rollover, back-insertion into a settled window, Clear) bumps a
monotonic generation counter. Results carry the generation they were
computed at, and the engine's single-slot result cache is keyed on it,
so a stale cache can never be served. While a collection is running,
eviction is suppressed; the window set a reader iterates cannot change
under it.
*/
package aggregator
