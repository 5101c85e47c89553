// Command sitechat runs the realtime chat core.
//
// @title                      sitechat API
// @version                    1.0
// @description                Session issuing and conversation history for the sitechat realtime core.
// @BasePath                   /api/v1
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
package main

import (
	"os"

	"github.com/tbourn/go-sitechat/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
