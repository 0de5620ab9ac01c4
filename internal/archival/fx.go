package archival

import "go.uber.org/fx"

var Module = fx.Module("archival",
	fx.Provide(NewSweeper),
)
