package main

import (
	"bitwise74/captcha-gateway/app"
	"bitwise74/captcha-gateway/config"
	"bitwise74/captcha-gateway/pkg/middleware"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	gin.SetMode(gin.ReleaseMode)

	err := config.Setup()
	if err != nil {
		panic(err)
	}

	if *config.AdminToken {
		token, err := middleware.NewAdminToken(viper.GetString("security.jwt_secret"), 30*24*time.Hour)
		if err != nil {
			panic(err)
		}

		fmt.Println(token)
		return
	}

	router, err := app.NewRouter()
	if err != nil {
		panic(err)
	}

	addr := fmt.Sprintf(":%d", viper.GetInt("host.port"))
	zap.L().Info("Server starting", zap.String("addr", addr))

	if viper.GetBool("host.ssl.enabled") {
		err = router.RunTLS(addr, viper.GetString("host.ssl.certificate_path"), viper.GetString("host.ssl.certificate_key_path"))
	} else {
		err = router.Run(addr)
	}

	if err != nil {
		panic(err)
	}
}
