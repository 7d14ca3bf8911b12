// Package externalprovider signs users in through third-party identity providers.
//
// A login runs in two legs. Handshake.Challenge stores a single-use state and
// redirects the user agent to the provider. When the provider calls back,
// Handshake.GetExternalLoginInfo checks the state and redeems the code for an
// ExternalLoginInfo. ExternalLoginService.CompleteLogin then maps that
// assertion to a local user and issues a token for it.
//
// # Providers
//
//   - Google, GitHub and Microsoft through golang.org/x/oauth2 plus the
//     provider's userinfo API (NewGoogleProvider, NewGitHubProvider,
//     NewMicrosoftProvider)
//   - Any OpenID Connect issuer through discovery (NewOIDCProvider)
//
// Providers are looked up by name through a Registry, case-insensitively.
//
// # Reconciliation
//
// CompleteLogin first tries the (provider, key) pair against existing links.
// If the pair is not linked yet, the email claim selects the account: an
// existing user with that email gets the login linked, otherwise a user is
// created with username and email set to the address. The provider's email
// is trusted as is unless WithRequireVerifiedEmail is set.
//
//	registry := externalprovider.NewRegistry(externalprovider.NewGoogleProvider(cfg))
//	handshake := externalprovider.NewHandshake(registry, externalprovider.NewInMemoryStateRepository(), baseURL)
//	service := externalprovider.NewExternalLoginService(repo, tokenGenerator)
//
//	info, err := handshake.GetExternalLoginInfo(w, r)
//	if err != nil {
//		return err
//	}
//	result, err := service.CompleteLogin(ctx, info)
package externalprovider
