package store

import "gorm.io/gorm/logger"

var silentLogger = logger.Default.LogMode(logger.Silent)
