package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"tinkerfai_backend/internal/config"
	"tinkerfai_backend/internal/model"
	"tinkerfai_backend/internal/util"
	"tinkerfai_backend/pkg/logger"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	cip "github.com/aws/aws-sdk-go/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider/cognitoidentityprovideriface"
	"go.uber.org/zap"
)

const minPasswordLength = 8

// SignUpRequest 注册参数
type SignUpRequest struct {
	Email           string
	Password        string
	ConfirmPassword string
	FirstName       string
	LastName        string
}

// ResetPasswordRequest 重置密码参数
type ResetPasswordRequest struct {
	Email            string
	ConfirmationCode string
	NewPassword      string
	ConfirmPassword  string
}

// AuthService 身份认证全部委托给 Cognito，本地不保存用户和密码
type AuthService struct {
	Client cognitoidentityprovideriface.CognitoIdentityProviderAPI
	Config *config.CognitoConfig

	secretOnce sync.Once
	secret     string
}

func NewCognitoClient(sess *session.Session) *cip.CognitoIdentityProvider {
	return cip.New(sess)
}

func NewAuthService(client cognitoidentityprovideriface.CognitoIdentityProviderAPI, cfg *config.CognitoConfig) *AuthService {
	return &AuthService{Client: client, Config: cfg}
}

// SecretHash base64(HMAC-SHA256(secret, username + clientId))
func SecretHash(secret, username, clientID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(username + clientID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// clientSecret 未配置时从用户池读取一次，读取失败视为没有 secret
func (s *AuthService) clientSecret(ctx context.Context) string {
	s.secretOnce.Do(func() {
		if s.Config.ClientSecret != "" {
			s.secret = s.Config.ClientSecret
			return
		}
		out, err := s.Client.DescribeUserPoolClientWithContext(ctx, &cip.DescribeUserPoolClientInput{
			UserPoolId: aws.String(s.Config.UserPoolID),
			ClientId:   aws.String(s.Config.ClientID),
		})
		if err != nil {
			logger.Log.Warn("Failed to describe user pool client, continuing without secret hash", zap.Error(err))
			return
		}
		if out.UserPoolClient != nil {
			s.secret = aws.StringValue(out.UserPoolClient.ClientSecret)
		}
	})
	return s.secret
}

func (s *AuthService) secretHash(ctx context.Context, username string) *string {
	secret := s.clientSecret(ctx)
	if secret == "" {
		return nil
	}
	return aws.String(SecretHash(secret, username, s.Config.ClientID))
}

func providerError(err error) (code, message string) {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return aerr.Code(), aerr.Message()
	}
	return "", err.Error()
}

// rejected 身份服务拒绝请求，消息可以直接展示给用户
func rejected(code, message string, err error) error {
	return util.Upstream(message, err).WithCode(code)
}

func validateNewPassword(password, confirm string) error {
	if password != confirm {
		return util.Validation("Passwords do not match")
	}
	if len(password) < minPasswordLength {
		return util.Validation("Password must be at least 8 characters long")
	}
	return nil
}

func userFromAttributes(attrs []*cip.AttributeType) *model.User {
	values := make(map[string]string, len(attrs))
	for _, attr := range attrs {
		values[aws.StringValue(attr.Name)] = aws.StringValue(attr.Value)
	}
	return &model.User{
		Email:     values["email"],
		FirstName: values["given_name"],
		LastName:  values["family_name"],
		Sub:       values["sub"],
	}
}

func (s *AuthService) SignUp(ctx context.Context, req SignUpRequest) (string, error) {
	if err := validateNewPassword(req.Password, req.ConfirmPassword); err != nil {
		return "", err
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return "", util.Validation("Email is required")
	}

	out, err := s.Client.SignUpWithContext(ctx, &cip.SignUpInput{
		ClientId:   aws.String(s.Config.ClientID),
		Username:   aws.String(email),
		Password:   aws.String(req.Password),
		SecretHash: s.secretHash(ctx, email),
		UserAttributes: []*cip.AttributeType{
			{Name: aws.String("email"), Value: aws.String(email)},
			{Name: aws.String("given_name"), Value: aws.String(req.FirstName)},
			{Name: aws.String("family_name"), Value: aws.String(req.LastName)},
		},
	})
	if err != nil {
		code, msg := providerError(err)
		if code == cip.ErrCodeUsernameExistsException {
			return "", rejected(code, "Email already registered", err)
		}
		return "", rejected(code, "Registration failed: "+msg, err)
	}

	logger.Log.Info("User registered", zap.String("sub", aws.StringValue(out.UserSub)))
	return aws.StringValue(out.UserSub), nil
}

func (s *AuthService) ConfirmSignUp(ctx context.Context, email, code string) error {
	_, err := s.Client.ConfirmSignUpWithContext(ctx, &cip.ConfirmSignUpInput{
		ClientId:         aws.String(s.Config.ClientID),
		Username:         aws.String(email),
		ConfirmationCode: aws.String(code),
		SecretHash:       s.secretHash(ctx, email),
	})
	if err != nil {
		errCode, msg := providerError(err)
		switch errCode {
		case cip.ErrCodeCodeMismatchException:
			return rejected(errCode, "Invalid verification code", err)
		case cip.ErrCodeExpiredCodeException:
			return rejected(errCode, "Verification code has expired", err)
		}
		return rejected(errCode, "Verification failed: "+msg, err)
	}
	return nil
}

func (s *AuthService) ResendConfirmationCode(ctx context.Context, email string) error {
	_, err := s.Client.ResendConfirmationCodeWithContext(ctx, &cip.ResendConfirmationCodeInput{
		ClientId:   aws.String(s.Config.ClientID),
		Username:   aws.String(email),
		SecretHash: s.secretHash(ctx, email),
	})
	if err != nil {
		code, msg := providerError(err)
		return rejected(code, "Failed to resend code: "+msg, err)
	}
	return nil
}

// userExists 只有明确的 UserNotFoundException 才返回 false
func (s *AuthService) userExists(ctx context.Context, email string) bool {
	_, err := s.Client.AdminGetUserWithContext(ctx, &cip.AdminGetUserInput{
		UserPoolId: aws.String(s.Config.UserPoolID),
		Username:   aws.String(email),
	})
	if err == nil {
		return true
	}
	code, _ := providerError(err)
	return code != cip.ErrCodeUserNotFoundException
}

func (s *AuthService) SignIn(ctx context.Context, email, password string) (*model.AuthResult, error) {
	if !s.userExists(ctx, email) {
		return nil, rejected(cip.ErrCodeUserNotFoundException, "Email doesn't exist", nil)
	}

	params := map[string]*string{
		"USERNAME": aws.String(email),
		"PASSWORD": aws.String(password),
	}
	if hash := s.secretHash(ctx, email); hash != nil {
		params["SECRET_HASH"] = hash
	}
	out, err := s.Client.AdminInitiateAuthWithContext(ctx, &cip.AdminInitiateAuthInput{
		UserPoolId:     aws.String(s.Config.UserPoolID),
		ClientId:       aws.String(s.Config.ClientID),
		AuthFlow:       aws.String(cip.AuthFlowTypeAdminNoSrpAuth),
		AuthParameters: params,
	})
	if err != nil {
		code, msg := providerError(err)
		switch code {
		case cip.ErrCodeNotAuthorizedException:
			return nil, rejected(code, "Password incorrect", err)
		case cip.ErrCodeUserNotConfirmedException:
			return nil, rejected(code, "Account not verified. Please check your email for verification code.", err)
		case cip.ErrCodeUserNotFoundException:
			return nil, rejected(code, "Email doesn't exist", err)
		}
		return nil, rejected(code, "Sign in failed: "+msg, err)
	}
	if out.AuthenticationResult == nil {
		return nil, rejected(aws.StringValue(out.ChallengeName), "Sign in failed: additional challenge required", nil)
	}

	userOut, err := s.Client.AdminGetUserWithContext(ctx, &cip.AdminGetUserInput{
		UserPoolId: aws.String(s.Config.UserPoolID),
		Username:   aws.String(email),
	})
	if err != nil {
		code, msg := providerError(err)
		return nil, rejected(code, "Sign in failed: "+msg, err)
	}

	res := out.AuthenticationResult
	return &model.AuthResult{
		Tokens: model.AuthTokens{
			AccessToken:  aws.StringValue(res.AccessToken),
			IDToken:      aws.StringValue(res.IdToken),
			RefreshToken: aws.StringValue(res.RefreshToken),
			ExpiresIn:    aws.Int64Value(res.ExpiresIn),
			TokenType:    aws.StringValue(res.TokenType),
		},
		User: *userFromAttributes(userOut.UserAttributes),
	}, nil
}

// ValidateToken 每次都向身份服务校验访问令牌
func (s *AuthService) ValidateToken(ctx context.Context, accessToken string) (*model.User, error) {
	if accessToken == "" {
		return nil, util.UnauthorizedError("Invalid or expired token")
	}
	out, err := s.Client.GetUserWithContext(ctx, &cip.GetUserInput{AccessToken: aws.String(accessToken)})
	if err != nil {
		code, msg := providerError(err)
		return nil, util.NewError(util.KindUnauthorized, "Token validation failed: "+msg, err).WithCode(code)
	}
	user := userFromAttributes(out.UserAttributes)
	if user.Email == "" {
		return nil, util.UnauthorizedError("Invalid token: missing user email")
	}
	return user, nil
}

func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	if !s.userExists(ctx, email) {
		return rejected(cip.ErrCodeUserNotFoundException, "Email doesn't exist in our system", nil)
	}
	_, err := s.Client.ForgotPasswordWithContext(ctx, &cip.ForgotPasswordInput{
		ClientId:   aws.String(s.Config.ClientID),
		Username:   aws.String(email),
		SecretHash: s.secretHash(ctx, email),
	})
	if err != nil {
		code, msg := providerError(err)
		switch code {
		case cip.ErrCodeUserNotFoundException:
			return rejected(code, "Email doesn't exist in our system", err)
		case cip.ErrCodeInvalidParameterException:
			return rejected(code, "Invalid email format", err)
		}
		return rejected(code, "Failed to send reset code: "+msg, err)
	}
	return nil
}

func (s *AuthService) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if err := validateNewPassword(req.NewPassword, req.ConfirmPassword); err != nil {
		return err
	}
	_, err := s.Client.ConfirmForgotPasswordWithContext(ctx, &cip.ConfirmForgotPasswordInput{
		ClientId:         aws.String(s.Config.ClientID),
		Username:         aws.String(req.Email),
		ConfirmationCode: aws.String(req.ConfirmationCode),
		Password:         aws.String(req.NewPassword),
		SecretHash:       s.secretHash(ctx, req.Email),
	})
	if err != nil {
		code, msg := providerError(err)
		return rejected(code, "Password reset failed: "+msg, err)
	}
	return nil
}

// SignOut 先校验令牌，再使该用户的所有令牌失效
func (s *AuthService) SignOut(ctx context.Context, accessToken string) error {
	if _, err := s.ValidateToken(ctx, accessToken); err != nil {
		return util.Upstream("Invalid token", err)
	}
	if _, err := s.Client.GlobalSignOutWithContext(ctx, &cip.GlobalSignOutInput{AccessToken: aws.String(accessToken)}); err != nil {
		code, msg := providerError(err)
		return rejected(code, "Logout failed: "+msg, err)
	}
	return nil
}

