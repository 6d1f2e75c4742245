// Package tools provides the tool registry used by the agent loop and the crypto market tools.
//
// Invariants:
// - Tool parameters are validated against a JSON Schema generated from the tool's Spec.
// - Execute never returns an error; failures, timeouts and panics become a failed Result
//   whose Observation is fed back to the reasoning model.
// - Outputs longer than the configured limit are truncated on a rune boundary.
//
// Usage:
//
//	reg := tools.NewRegistry(tools.WithTimeout(10 * time.Second))
//	_ = tools.RegisterCrypto(reg, tools.CryptoConfig{})
//	res := reg.Execute(ctx, "crypto_price", map[string]interface{}{"crypto_id": "btc"})
//	fmt.Println(res.Observation())
package tools
