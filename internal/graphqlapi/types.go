package graphqlapi

import (
	"github.com/graphql-go/graphql"

	"relaycast/internal/models"
)

var statusEnum = graphql.NewEnum(graphql.EnumConfig{
	Name: "Status",
	Values: graphql.EnumValueConfigMap{
		"OFFLINE":      &graphql.EnumValueConfig{Value: string(models.StatusOffline)},
		"INITIALIZING": &graphql.EnumValueConfig{Value: string(models.StatusInitializing)},
		"ONLINE":       &graphql.EnumValueConfig{Value: string(models.StatusOnline)},
		"UNSTABLE":     &graphql.EnumValueConfig{Value: string(models.StatusUnstable)},
	},
})

var endpointKindEnum = graphql.NewEnum(graphql.EnumConfig{
	Name: "EndpointKind",
	Values: graphql.EnumValueConfigMap{
		"RTMP": &graphql.EnumValueConfig{Value: string(models.EndpointKindRTMP)},
		"HLS":  &graphql.EnumValueConfig{Value: string(models.EndpointKindHLS)},
	},
})

var inputSourceKindEnum = graphql.NewEnum(graphql.EnumConfig{
	Name: "InputSourceKind",
	Values: graphql.EnumValueConfigMap{
		"PUSH":     &graphql.EnumValueConfig{Value: string(models.InputSourcePush)},
		"PULL":     &graphql.EnumValueConfig{Value: string(models.InputSourcePull)},
		"FAILOVER": &graphql.EnumValueConfig{Value: string(models.InputSourceFailover)},
	},
})

func fieldString(get func(interface{}) (string, bool)) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		v, ok := get(p.Source)
		if !ok {
			return nil, nil
		}
		return v, nil
	}
}

var endpointType = graphql.NewObject(graphql.ObjectConfig{
	Name: "InputEndpoint",
	Fields: graphql.Fields{
		"id":   &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
		"kind": &graphql.Field{Type: graphql.NewNonNull(endpointKindEnum)},
		"label": &graphql.Field{
			Type: graphql.String,
			Resolve: fieldString(func(src interface{}) (string, bool) {
				ep, ok := src.(models.InputEndpoint)
				return ep.Label, ok
			}),
		},
		"status": &graphql.Field{Type: graphql.NewNonNull(statusEnum)},
	},
})

// childInputType is a Failover child: an Input restricted to Push/Pull, with
// no further nested children; failover groups do not nest.
var childInputType = graphql.NewObject(graphql.ObjectConfig{
	Name: "FailoverChildInput",
	Fields: graphql.Fields{
		"id":      &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
		"key":     &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"enabled": &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
		"kind":    &graphql.Field{Type: graphql.NewNonNull(inputSourceKindEnum)},
		"pullUrl": &graphql.Field{
			Type: graphql.String,
			Resolve: fieldString(func(src interface{}) (string, bool) {
				in, ok := src.(models.Input)
				return in.Source.PullURL, ok
			}),
		},
		"endpoints": &graphql.Field{
			Type: graphql.NewList(endpointType),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				in, ok := p.Source.(models.Input)
				if !ok {
					return nil, nil
				}
				return in.Endpoints, nil
			},
		},
	},
})

var inputSourceType = graphql.NewObject(graphql.ObjectConfig{
	Name: "InputSource",
	Fields: graphql.Fields{
		"kind": &graphql.Field{Type: graphql.NewNonNull(inputSourceKindEnum)},
		"pullUrl": &graphql.Field{
			Type: graphql.String,
			Resolve: fieldString(func(src interface{}) (string, bool) {
				s, ok := src.(models.InputSource)
				return s.PullURL, ok
			}),
		},
		"children": &graphql.Field{Type: graphql.NewList(childInputType)},
	},
})

var inputType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Input",
	Fields: graphql.Fields{
		"id":      &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
		"key":     &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"enabled": &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
		"source":  &graphql.Field{Type: graphql.NewNonNull(inputSourceType)},
		"endpoints": &graphql.Field{
			Type: graphql.NewList(endpointType),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				in, ok := p.Source.(models.Input)
				if !ok {
					return nil, nil
				}
				return in.Endpoints, nil
			},
		},
	},
})

var mixinType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Mixin",
	Fields: graphql.Fields{
		"id":     &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
		"src":    &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"volume": &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		"muted":  &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
		"delaySecs": &graphql.Field{
			Type: graphql.NewNonNull(graphql.Float),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				m, ok := p.Source.(models.Mixin)
				if !ok {
					return 0.0, nil
				}
				return m.Delay.Seconds(), nil
			},
		},
		"sidechain": &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
		"status":    &graphql.Field{Type: graphql.NewNonNull(statusEnum)},
	},
})

var outputType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Output",
	Fields: graphql.Fields{
		"id":  &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
		"dst": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"label": &graphql.Field{
			Type: graphql.String,
			Resolve: fieldString(func(src interface{}) (string, bool) {
				o, ok := src.(models.Output)
				return o.Label, ok
			}),
		},
		"previewUrl": &graphql.Field{
			Type: graphql.String,
			Resolve: fieldString(func(src interface{}) (string, bool) {
				o, ok := src.(models.Output)
				return o.PreviewURL, ok
			}),
		},
		"enabled": &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
		"volume":  &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		"muted":   &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
		"mixins":  &graphql.Field{Type: graphql.NewList(mixinType)},
		"status":  &graphql.Field{Type: graphql.NewNonNull(statusEnum)},
	},
})

var restreamType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Restream",
	Fields: graphql.Fields{
		"id":  &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
		"key": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"label": &graphql.Field{
			Type: graphql.String,
			Resolve: fieldString(func(src interface{}) (string, bool) {
				r, ok := src.(models.Restream)
				return r.Label, ok
			}),
		},
		"input":   &graphql.Field{Type: graphql.NewNonNull(inputType)},
		"outputs": &graphql.Field{Type: graphql.NewList(outputType)},
	},
})

func fieldInt(get func(interface{}) int) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		return get(p.Source), nil
	}
}

var dashboardType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Dashboard",
	Fields: graphql.Fields{
		"liveRestreams": &graphql.Field{
			Type:    graphql.NewNonNull(graphql.Int),
			Resolve: fieldInt(func(src interface{}) int { return src.(dashboardView).LiveRestreams }),
		},
		"unstableEndpoints": &graphql.Field{
			Type:    graphql.NewNonNull(graphql.Int),
			Resolve: fieldInt(func(src interface{}) int { return src.(dashboardView).UnstableEndpoints }),
		},
		"restreamSummaries": &graphql.Field{
			Type: graphql.NewList(restreamSummaryType),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return p.Source.(dashboardView).RestreamSummaries, nil
			},
		},
	},
})

var restreamSummaryType = graphql.NewObject(graphql.ObjectConfig{
	Name: "RestreamSummary",
	Fields: graphql.Fields{
		"restreamId": &graphql.Field{
			Type: graphql.NewNonNull(graphql.ID),
			Resolve: fieldString(func(src interface{}) (string, bool) {
				s, ok := src.(restreamSummary)
				return s.RestreamID, ok
			}),
		},
		"key": &graphql.Field{
			Type: graphql.NewNonNull(graphql.String),
			Resolve: fieldString(func(src interface{}) (string, bool) {
				s, ok := src.(restreamSummary)
				return s.Key, ok
			}),
		},
		"outputsOnline": &graphql.Field{
			Type:    graphql.NewNonNull(graphql.Int),
			Resolve: fieldInt(func(src interface{}) int { return src.(restreamSummary).OutputsOnline }),
		},
		"outputsTotal": &graphql.Field{
			Type:    graphql.NewNonNull(graphql.Int),
			Resolve: fieldInt(func(src interface{}) int { return src.(restreamSummary).OutputsTotal }),
		},
	},
})
