package app

import (
	"go.uber.org/zap"

	"github.com/Blackdeer1524/txnsim/src/cfg"
	"github.com/Blackdeer1524/txnsim/src/pkg/utils"
)

func newLogger(env cfg.Environment) *zap.SugaredLogger {
	if env == cfg.EnvProd {
		return utils.Must(zap.NewProduction()).Sugar()
	}
	return utils.Must(zap.NewDevelopment()).Sugar()
}
