/*
Package patch provides a dynamic graph of audio processors rendered in
fixed-size blocks under real-time constraints.

A patch is built from nodes connected by edges. Every node implements the
Processor contract and is executed once per block in an order compiled
from the graph topology. The graph is edited on a control goroutine which
may allocate and block; rendering happens on whatever goroutine the
playback backend drives and must never do either. The two sides meet in a
single-slot, most-recent-wins exchange of compiled bundles, so the render
side always observes a complete, internally consistent schedule and never
a graph under edit.

Cycles are allowed as long as every cycle contains at least one delay
edge. A delay edge hands the consumer the producer's previous-block
output, which breaks the ordering dependency.
*/
package patch
