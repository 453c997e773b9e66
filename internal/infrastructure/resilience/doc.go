/*
Package resilience provides the circuit breaker that guards calls into the
kernel runtime and the package index.

# States

	Closed --[ReadyToTrip]-> Open --[Timeout]-> Half-Open --[MaxRequests successes]-> Closed
	                                               |
	                                          [failure]
	                                               v
	                                              Open

# Usage

	breaker := resilience.New("kernel", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	err := breaker.ExecuteContext(ctx, runtime.Interrupt)

Client errors that say nothing about the dependency's health should be
accepted by IsSuccessful so they never open the breaker.
*/
package resilience
