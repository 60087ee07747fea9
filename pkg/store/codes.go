package store

import "context"

// UserCodes exposes user verification codes to the verification engine.
type UserCodes struct {
	Users UserStore
}

func (c UserCodes) SetCode(ctx context.Context, subjectID, code string) error {
	return c.Users.SetUserVerificationCode(ctx, subjectID, code)
}

func (c UserCodes) ConsumeCode(ctx context.Context, subjectID, code string) error {
	return c.Users.ConsumeUserVerificationCode(ctx, subjectID, code)
}

// PaymentCodes exposes payment verification codes to the verification engine.
type PaymentCodes struct {
	Payments PaymentStore
}

func (c PaymentCodes) SetCode(ctx context.Context, subjectID, code string) error {
	return c.Payments.SetPaymentVerificationCode(ctx, subjectID, code)
}

func (c PaymentCodes) ConsumeCode(ctx context.Context, subjectID, code string) error {
	return c.Payments.ConsumePaymentVerificationCode(ctx, subjectID, code)
}

// ResetCodes exposes password reset codes to the verification engine.
type ResetCodes struct {
	Users UserStore
}

func (c ResetCodes) SetCode(ctx context.Context, subjectID, code string) error {
	return c.Users.SetUserResetCode(ctx, subjectID, code)
}

func (c ResetCodes) ConsumeCode(ctx context.Context, subjectID, code string) error {
	return c.Users.ConsumeUserResetCode(ctx, subjectID, code)
}
