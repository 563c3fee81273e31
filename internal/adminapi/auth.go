package adminapi

import (
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/inlinesoft/whatsdesk/internal/domain"
	"github.com/inlinesoft/whatsdesk/internal/webserver"
	"github.com/inlinesoft/whatsdesk/pkg/common"
)

func registerAuthRoutes() {
	webserver.ApiPOST("/login", login)
}

type loginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// login verifies operator credentials and issues a JWT for the /api group.
func login(c echo.Context) error {
	var payload loginPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	username := strings.TrimSpace(payload.Username)
	if username == "" || payload.Password == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "username and password are required", nil)
	}

	var opr domain.SysOpr
	if err := GetDB(c).Where("username = ?", username).First(&opr).Error; err != nil {
		return fail(c, http.StatusUnauthorized, "LOGIN_FAILED", "Invalid username or password", nil)
	}
	if !strings.EqualFold(opr.Status, common.ENABLED) {
		return fail(c, http.StatusForbidden, "ACCOUNT_DISABLED", "Operator account is disabled", nil)
	}
	if common.Sha256HashWithSalt(payload.Password, common.GetSecretSalt()) != opr.Password {
		zap.L().Warn("login rejected", zap.String("username", username), zap.String("ip", c.RealIP()))
		return fail(c, http.StatusUnauthorized, "LOGIN_FAILED", "Invalid username or password", nil)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid":   opr.ID,
		"usr":   opr.Username,
		"level": opr.Level,
		"exp":   time.Now().Add(24 * time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(GetApp(c).Config().Web.Secret))
	if err != nil {
		return fail(c, http.StatusInternalServerError, "TOKEN_ERROR", "Failed to sign token", err.Error())
	}

	GetDB(c).Model(&domain.SysOpr{}).Where("id = ?", opr.ID).Update("last_login", time.Now())
	GetDB(c).Create(&domain.SysOprLog{
		ID:        common.UUIDint64(),
		OprName:   opr.Username,
		OprIp:     c.RealIP(),
		OptAction: "login",
		OptDesc:   "operator login",
		OptTime:   time.Now(),
	})

	return ok(c, map[string]interface{}{
		"token":    signed,
		"username": opr.Username,
		"level":    opr.Level,
	})
}
