// Package walletsdk is the embeddable face of walletbridge: a Provider puts
// a wallet on a transport and a Client lets a dapp find and use it.
//
// Example:
//
//	window := transport.NewWindow("page", nil)
//	handler := wallet.NewHandler(rpc, nil, wallet.WithAnnouncement(ann))
//	p, err := walletsdk.NewProvider(ctx, window, handler)
//	...
//	c, err := walletsdk.NewClient(ctx, window)
//	a, err := c.WaitForProvider(ctx, "")
//	ch, err := c.Connect(ctx, a.ProviderID, client.HotOstrichHandlers{})
//	balance, err := ch.GetBalance(ctx, address)
package walletsdk
