package app

import (
	"github.com/specialistvlad/privacyflow/internal/registry"
	"github.com/specialistvlad/privacyflow/modules/manual"
	"github.com/specialistvlad/privacyflow/modules/mongodb"
	"github.com/specialistvlad/privacyflow/modules/saas"
	"github.com/specialistvlad/privacyflow/modules/socketio"
	"github.com/specialistvlad/privacyflow/modules/sqldb"
)

// coreModules is the definitive list of connector modules compiled into the
// privacyflow binary.
var coreModules = []registry.Module{
	&sqldb.Module{},
	&mongodb.Module{},
	&saas.Module{},
	&socketio.Module{},
	&manual.Module{},
}
