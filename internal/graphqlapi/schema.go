package graphqlapi

import (
	"github.com/graphql-go/graphql"
)

// backupInputType and mixinInputType are the input-object counterparts of
// restreamType/mixinType, used only as mutation argument shapes.
var backupInputType = graphql.NewInputObject(graphql.InputObjectConfig{
	Name: "BackupInput",
	Fields: graphql.InputObjectConfigFieldMap{
		"key": &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.String)},
		"src": &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.String)},
	},
})

var mixinInputType = graphql.NewInputObject(graphql.InputObjectConfig{
	Name: "MixinInput",
	Fields: graphql.InputObjectConfigFieldMap{
		"src":       &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.String)},
		"volume":    &graphql.InputObjectFieldConfig{Type: graphql.Int},
		"muted":     &graphql.InputObjectFieldConfig{Type: graphql.Boolean},
		"delaySecs": &graphql.InputObjectFieldConfig{Type: graphql.Float},
		"sidechain": &graphql.InputObjectFieldConfig{Type: graphql.Boolean},
	},
})

func queryFields(r *Resolver) graphql.Fields {
	return graphql.Fields{
		"restreams": &graphql.Field{
			Type:    graphql.NewList(restreamType),
			Resolve: r.resolveRestreams,
		},
		"restream": &graphql.Field{
			Type: restreamType,
			Args: graphql.FieldConfigArgument{
				"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
			},
			Resolve: r.resolveRestream,
		},
	}
}

// clientMutationFields is the full CRUD surface granted to the client
// schema: every internal/store mutation has a 1:1 field here.
func clientMutationFields(r *Resolver) graphql.Fields {
	return graphql.Fields{
		"setRestream": &graphql.Field{
			Type: restreamType,
			Args: graphql.FieldConfigArgument{
				"id":      &graphql.ArgumentConfig{Type: graphql.ID},
				"key":     &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				"label":   &graphql.ArgumentConfig{Type: graphql.String},
				"src":     &graphql.ArgumentConfig{Type: graphql.String},
				"backups": &graphql.ArgumentConfig{Type: graphql.NewList(backupInputType)},
				"withHls": &graphql.ArgumentConfig{Type: graphql.Boolean},
			},
			Resolve: r.resolveSetRestream,
		},
		"removeRestream": &graphql.Field{
			Type: graphql.Boolean,
			Args: graphql.FieldConfigArgument{
				"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
			},
			Resolve: r.resolveRemoveRestream,
		},
		"enableRestream": &graphql.Field{
			Type: graphql.Boolean,
			Args: graphql.FieldConfigArgument{
				"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
			},
			Resolve: r.resolveEnableRestream,
		},
		"disableRestream": &graphql.Field{
			Type: graphql.Boolean,
			Args: graphql.FieldConfigArgument{
				"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
			},
			Resolve: r.resolveDisableRestream,
		},
		"enableInput": &graphql.Field{
			Type: graphql.Boolean,
			Args: graphql.FieldConfigArgument{
				"restreamId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
			},
			Resolve: r.resolveEnableInput,
		},
		"disableInput": &graphql.Field{
			Type: graphql.Boolean,
			Args: graphql.FieldConfigArgument{
				"restreamId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
			},
			Resolve: r.resolveDisableInput,
		},
		"setOutput": &graphql.Field{
			Type: outputType,
			Args: graphql.FieldConfigArgument{
				"restreamId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				"id":         &graphql.ArgumentConfig{Type: graphql.ID},
				"dst":        &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				"label":      &graphql.ArgumentConfig{Type: graphql.String},
				"previewUrl": &graphql.ArgumentConfig{Type: graphql.String},
				"mixins":     &graphql.ArgumentConfig{Type: graphql.NewList(mixinInputType)},
			},
			Resolve: r.resolveSetOutput,
		},
		"removeOutput": &graphql.Field{
			Type: graphql.Boolean,
			Args: graphql.FieldConfigArgument{
				"restreamId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				"id":         &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
			},
			Resolve: r.resolveRemoveOutput,
		},
		"enableOutput": &graphql.Field{
			Type: graphql.Boolean,
			Args: graphql.FieldConfigArgument{
				"restreamId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				"id":         &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
			},
			Resolve: r.resolveEnableOutput,
		},
		"disableOutput": &graphql.Field{
			Type: graphql.Boolean,
			Args: graphql.FieldConfigArgument{
				"restreamId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				"id":         &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
			},
			Resolve: r.resolveDisableOutput,
		},
		"enableAllOutputs": &graphql.Field{
			Type: graphql.Boolean,
			Args: graphql.FieldConfigArgument{
				"restreamId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
			},
			Resolve: r.resolveEnableAllOutputs,
		},
		"disableAllOutputs": &graphql.Field{
			Type: graphql.Boolean,
			Args: graphql.FieldConfigArgument{
				"restreamId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
			},
			Resolve: r.resolveDisableAllOutputs,
		},
		"enableAllOutputsOfRestreams": &graphql.Field{
			Type:    graphql.Boolean,
			Resolve: r.resolveEnableAllOutputsOfRestreams,
		},
		"disableAllOutputsOfRestreams": &graphql.Field{
			Type:    graphql.Boolean,
			Resolve: r.resolveDisableAllOutputsOfRestreams,
		},
		"tuneVolume": &graphql.Field{
			Type: graphql.Boolean,
			Args: graphql.FieldConfigArgument{
				"restreamId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				"outputId":   &graphql.ArgumentConfig{Type: graphql.ID},
				"mixinId":    &graphql.ArgumentConfig{Type: graphql.ID},
				"level":      &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
				"muted":      &graphql.ArgumentConfig{Type: graphql.Boolean},
			},
			Resolve: r.resolveTuneVolume,
		},
		"tuneDelay": &graphql.Field{
			Type: graphql.Boolean,
			Args: graphql.FieldConfigArgument{
				"restreamId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				"mixinId":    &graphql.ArgumentConfig{Type: graphql.ID},
				"seconds":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
			},
			Resolve: r.resolveTuneDelay,
		},
		"tuneSidechain": &graphql.Field{
			Type: graphql.Boolean,
			Args: graphql.FieldConfigArgument{
				"restreamId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				"mixinId":    &graphql.ArgumentConfig{Type: graphql.ID},
				"sidechain":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Boolean)},
			},
			Resolve: r.resolveTuneSidechain,
		},
		"changeEndpointLabel": &graphql.Field{
			Type: graphql.Boolean,
			Args: graphql.FieldConfigArgument{
				"restreamId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				"endpointId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				"label":      &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: r.resolveChangeEndpointLabel,
		},
		"importRestreams": &graphql.Field{
			Type: graphql.Boolean,
			Args: graphql.FieldConfigArgument{
				"restreamId": &graphql.ArgumentConfig{Type: graphql.ID},
				"replace":    &graphql.ArgumentConfig{Type: graphql.Boolean},
				"spec":       &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: r.resolveImport,
		},
		"exportRestreams": &graphql.Field{
			Type:    graphql.String,
			Resolve: r.resolveExport,
		},
		"setPassword": &graphql.Field{
			Type: graphql.Boolean,
			Args: graphql.FieldConfigArgument{
				"kind": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				"old":  &graphql.ArgumentConfig{Type: graphql.String},
				"new":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: r.resolveSetPassword,
		},
	}
}

// mixMutationFields restricts the mix schema to the single output-tuning
// operations granted to a mix credential (volume, delay, sidechain) —
// never restream/input topology changes.
func mixMutationFields(r *Resolver) graphql.Fields {
	return graphql.Fields{
		"tuneVolume":    clientMutationFields(r)["tuneVolume"],
		"tuneDelay":     clientMutationFields(r)["tuneDelay"],
		"tuneSidechain": clientMutationFields(r)["tuneSidechain"],
	}
}

func newClientSchema(r *Resolver) (graphql.Schema, error) {
	query := graphql.NewObject(graphql.ObjectConfig{Name: "Query", Fields: queryFields(r)})
	mutation := graphql.NewObject(graphql.ObjectConfig{Name: "Mutation", Fields: clientMutationFields(r)})
	return graphql.NewSchema(graphql.SchemaConfig{Query: query, Mutation: mutation})
}

func newMixSchema(r *Resolver) (graphql.Schema, error) {
	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"output": &graphql.Field{
				Type: outputType,
				Args: graphql.FieldConfigArgument{
					"restreamId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
					"outputId":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Resolve: r.resolveOutput,
			},
		},
	})
	mutation := graphql.NewObject(graphql.ObjectConfig{Name: "Mutation", Fields: mixMutationFields(r)})
	return graphql.NewSchema(graphql.SchemaConfig{Query: query, Mutation: mutation})
}

func newDashboardSchema(r *Resolver) (graphql.Schema, error) {
	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"dashboard": &graphql.Field{
				Type:    graphql.NewNonNull(dashboardType),
				Resolve: r.resolveDashboard,
			},
		},
	})
	return graphql.NewSchema(graphql.SchemaConfig{Query: query})
}
