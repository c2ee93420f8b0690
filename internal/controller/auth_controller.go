package controller

import (
	"tinkerfai_backend/internal/service"
	"tinkerfai_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type AuthController struct {
	AuthService *service.AuthService
}

func NewAuthController(authService *service.AuthService) *AuthController {
	return &AuthController{AuthService: authService}
}

type SignupRequest struct {
	Email           string `json:"email" binding:"required,email"`
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirmPassword" binding:"required"`
	FirstName       string `json:"firstName" binding:"required"`
	LastName        string `json:"lastName" binding:"required"`
}

type SigninRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type TokenRequest struct {
	AccessToken string `json:"accessToken" binding:"required"`
}

type EmailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type ConfirmSignupRequest struct {
	Email            string `json:"email" binding:"required,email"`
	ConfirmationCode string `json:"confirmationCode" binding:"required"`
}

type ResetPasswordRequest struct {
	Email            string `json:"email" binding:"required,email"`
	ConfirmationCode string `json:"confirmationCode" binding:"required"`
	NewPassword      string `json:"newPassword" binding:"required"`
	ConfirmPassword  string `json:"confirmPassword" binding:"required"`
}

// Signup godoc
// @Summary 注册
// @Tags 认证
// @Accept json
// @Produce json
// @Param body body SignupRequest true "注册信息"
// @Success 200 {object} util.Response
// @Failure 400 {object} util.Response "密码不一致、密码过短或身份服务拒绝"
// @Router /api/signup [post]
func (c *AuthController) Signup(ctx *gin.Context) {
	var req SignupRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	_, err := c.AuthService.SignUp(ctx.Request.Context(), service.SignUpRequest{
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
	})
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.SuccessWithMessage(ctx, "Account created successfully! Please check your email for the verification code.", gin.H{"email": req.Email})
}

// Signin godoc
// @Summary 登录
// @Tags 认证
// @Accept json
// @Produce json
// @Param body body SigninRequest true "邮箱和密码"
// @Success 200 {object} util.Response
// @Failure 400 {object} util.Response
// @Router /api/signin [post]
func (c *AuthController) Signin(ctx *gin.Context) {
	var req SigninRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	res, err := c.AuthService.SignIn(ctx.Request.Context(), req.Email, req.Password)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.SuccessWithMessage(ctx, "Sign in successful", gin.H{
		"accessToken":  res.Tokens.AccessToken,
		"refreshToken": res.Tokens.RefreshToken,
		"idToken":      res.Tokens.IDToken,
		"expiresIn":    res.Tokens.ExpiresIn,
		"tokenType":    res.Tokens.TokenType,
		"user":         res.User,
	})
}

// ValidateToken godoc
// @Summary 校验访问令牌
// @Tags 认证
// @Accept json
// @Produce json
// @Param body body TokenRequest true "访问令牌"
// @Success 200 {object} util.Response
// @Failure 401 {object} util.Response
// @Router /api/validate-token [post]
func (c *AuthController) ValidateToken(ctx *gin.Context) {
	var req TokenRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	user, err := c.AuthService.ValidateToken(ctx.Request.Context(), req.AccessToken)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.SuccessWithMessage(ctx, "Token is valid", gin.H{"user": user})
}

// ForgotPassword godoc
// @Summary 发送重置密码验证码
// @Tags 认证
// @Accept json
// @Produce json
// @Param body body EmailRequest true "邮箱"
// @Success 200 {object} util.Response
// @Failure 400 {object} util.Response
// @Router /api/forgot-password [post]
func (c *AuthController) ForgotPassword(ctx *gin.Context) {
	var req EmailRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	if err := c.AuthService.ForgotPassword(ctx.Request.Context(), req.Email); err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.SuccessWithMessage(ctx, "Password reset code sent to your email", nil)
}

// ResetPassword godoc
// @Summary 使用验证码重置密码
// @Tags 认证
// @Accept json
// @Produce json
// @Param body body ResetPasswordRequest true "重置信息"
// @Success 200 {object} util.Response
// @Failure 400 {object} util.Response
// @Router /api/reset-password [post]
func (c *AuthController) ResetPassword(ctx *gin.Context) {
	var req ResetPasswordRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	err := c.AuthService.ResetPassword(ctx.Request.Context(), service.ResetPasswordRequest{
		Email:            req.Email,
		ConfirmationCode: req.ConfirmationCode,
		NewPassword:      req.NewPassword,
		ConfirmPassword:  req.ConfirmPassword,
	})
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.SuccessWithMessage(ctx, "Password reset successfully", nil)
}

// ConfirmSignup godoc
// @Summary 确认注册验证码
// @Tags 认证
// @Accept json
// @Produce json
// @Param body body ConfirmSignupRequest true "邮箱和验证码"
// @Success 200 {object} util.Response
// @Failure 400 {object} util.Response
// @Router /api/confirm-signup [post]
func (c *AuthController) ConfirmSignup(ctx *gin.Context) {
	var req ConfirmSignupRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	if err := c.AuthService.ConfirmSignUp(ctx.Request.Context(), req.Email, req.ConfirmationCode); err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.SuccessWithMessage(ctx, "Email verified successfully! You can now sign in.", nil)
}

// ResendConfirmation godoc
// @Summary 重新发送注册验证码
// @Tags 认证
// @Accept json
// @Produce json
// @Param body body EmailRequest true "邮箱"
// @Success 200 {object} util.Response
// @Failure 400 {object} util.Response
// @Router /api/resend-confirmation [post]
func (c *AuthController) ResendConfirmation(ctx *gin.Context) {
	var req EmailRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	if err := c.AuthService.ResendConfirmationCode(ctx.Request.Context(), req.Email); err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.SuccessWithMessage(ctx, "Verification code sent to your email", nil)
}

// Logout godoc
// @Summary 注销，使该用户全部令牌失效
// @Tags 认证
// @Accept json
// @Produce json
// @Param body body TokenRequest true "访问令牌"
// @Success 200 {object} util.Response
// @Failure 400 {object} util.Response
// @Router /api/logout [post]
func (c *AuthController) Logout(ctx *gin.Context) {
	var req TokenRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	if err := c.AuthService.SignOut(ctx.Request.Context(), req.AccessToken); err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.SuccessWithMessage(ctx, "Logged out successfully", nil)
}
