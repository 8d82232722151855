package sdk

// Version is the published SDK version.
// 0.4.1: Refreshes in flight are bound to the session that started them; logout always wins. Proactive
// refresh failures no longer end the session. Latency histogram labelled by method instead of path.
// 0.4.0: Concurrent 401s share one refresh exchange; SignOut bounded by the logout failsafe.
// 0.3.0: Redis and bolt token stores; proactive refresh for JWT access tokens (Config.RefreshSkew).
// 0.2.0: Breaking - TokenStore.Set takes the whole pair; partial pairs are rejected.
const Version = "0.4.1"
