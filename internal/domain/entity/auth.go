package entity

// AuthContext is the caller's authorization scope. It is passed explicitly into
// every state machine operation; the engine holds no ambient privilege.
type AuthContext struct {
	BaseID   string // Tenant scope for management callers
	ActorID  string
	SignerID string // Set for token-authenticated signers
	System   bool   // Background jobs such as the expiry sweeper
}

func TenantAuth(baseID, actorID string) AuthContext {
	return AuthContext{BaseID: baseID, ActorID: actorID}
}

func SignerAuth(signerID string) AuthContext {
	return AuthContext{SignerID: signerID, ActorID: "signer:" + signerID}
}

func SystemAuth() AuthContext {
	return AuthContext{ActorID: "system", System: true}
}

func (a AuthContext) IsSigner() bool {
	return a.SignerID != ""
}

// CanAccessRequest reports whether the scope covers req.
func (a AuthContext) CanAccessRequest(req *SignatureRequest) bool {
	if a.System {
		return true
	}
	if a.IsSigner() {
		return req.FindSigner(a.SignerID) != nil
	}
	return a.BaseID != "" && a.BaseID == req.BaseID
}

// CanActAsSigner reports whether the scope may act for signerID.
func (a AuthContext) CanActAsSigner(req *SignatureRequest, signerID string) bool {
	if a.IsSigner() {
		return a.SignerID == signerID
	}
	return a.CanAccessRequest(req)
}
