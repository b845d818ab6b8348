// Package prometheus renders goIdentity metrics in the Prometheus text
// exposition format (version 0.0.4) without a client library registry.
//
// Counters are named goidentity_*_total. The sign-in latency histogram is
// goidentity_signin_latency_seconds with _bucket, _sum and _count series and
// is omitted until latency histograms are enabled.
package prometheus
