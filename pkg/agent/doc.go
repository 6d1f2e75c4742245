// Package agent turns one incoming message into one reply text.
//
// The Executor classifies the input with a router, then either asks a DirectAnswerer
// for a single reply or drives a bounded reasoning loop where a Reasoner picks tools
// from the registry until it produces a final answer.
//
// Invariants:
// - Run never returns an error; exhausted or fatal runs yield the configured apology.
// - A run makes at most MaxRetries+1 attempts, counted across both paths.
// - A tool loop attempt takes at most MaxIterations reasoning rounds.
// - Tool failures are observations, not attempt failures.
// - The executor never writes memory; callers record turns after a successful run.
//
// Usage:
//
//	exec, _ := agent.NewExecutor(agent.ExecutorConfig{
//		Router:   router.NewDefault(),
//		Direct:   agent.NewLLMDirectAnswerer(provider, agent.DirectConfig{}),
//		Reasoner: agent.NewLLMReasoner(provider, agent.ReasonerConfig{}),
//		Tools:    registry,
//	})
//	result := exec.Run(ctx, agent.RunRequest{GroupID: "-1001", Input: "btc price?"})
//	fmt.Println(result.Text)
package agent
