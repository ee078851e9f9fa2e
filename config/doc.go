// Package config loads pattern configuration from a YAML document keyed
// by {kind}.{name}.
//
//	ratelimit:
//	  orders:
//	    max_executions: 200
//	    strategy: backpressure
//	circuitbreaker:
//	  orders:
//	    failure_threshold: ${CB_THRESHOLD}
//
// Values expand ${ENV} references strictly: a referenced variable missing
// from the environment is an error, $$ escapes a literal dollar, and bare
// $VAR text is left untouched. Unknown kinds and unknown field keys are
// ignored for forward compatibility. [Document.Apply] pushes the
// whitelisted field subsets through the registry onto live patterns.
package config
