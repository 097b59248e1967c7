package plugin

import (
	"github.com/conneroisu/htmlforge/internal/bundler"
	"github.com/conneroisu/htmlforge/internal/hooks"
	"github.com/conneroisu/htmlforge/internal/tags"
)

const hooksKey = "htmlforge.plugin.hooks"

// AssetTagsData is threaded through AlterAssetTags.
type AssetTagsData struct {
	Scripts    []tags.Descriptor
	Styles     []tags.Descriptor
	OutputName string
	Plugin     *HTMLPlugin
}

// TagGroupsData is threaded through AlterAssetTagGroups.
type TagGroupsData struct {
	HeadTags   []tags.Descriptor
	BodyTags   []tags.Descriptor
	OutputName string
	Plugin     *HTMLPlugin
}

// TemplateExecutionData is threaded through AfterTemplateExecution.
type TemplateExecutionData struct {
	HTML       string
	HeadTags   []tags.Descriptor
	BodyTags   []tags.Descriptor
	OutputName string
	Plugin     *HTMLPlugin
}

// BeforeEmitData is threaded through BeforeEmit.
type BeforeEmitData struct {
	HTML       string
	OutputName string
	Plugin     *HTMLPlugin
}

// AfterEmitData is passed to AfterEmit.
type AfterEmitData struct {
	OutputName string
	Plugin     *HTMLPlugin
}

// Hooks are the render pipeline extension points of one compilation.
type Hooks struct {
	AlterAssetTags         *hooks.Waterfall[*AssetTagsData]
	AlterAssetTagGroups    *hooks.Waterfall[*TagGroupsData]
	AfterTemplateExecution *hooks.Waterfall[*TemplateExecutionData]
	BeforeEmit             *hooks.Waterfall[*BeforeEmitData]
	AfterEmit              *hooks.Series[*AfterEmitData]
}

func newHooks() *Hooks {
	return &Hooks{
		AlterAssetTags:         hooks.NewWaterfall[*AssetTagsData]("alterAssetTags"),
		AlterAssetTagGroups:    hooks.NewWaterfall[*TagGroupsData]("alterAssetTagGroups"),
		AfterTemplateExecution: hooks.NewWaterfall[*TemplateExecutionData]("afterTemplateExecution"),
		BeforeEmit:             hooks.NewWaterfall[*BeforeEmitData]("beforeEmit"),
		AfterEmit:              hooks.NewSeries[*AfterEmitData]("afterEmit"),
	}
}

// HooksFor returns the hooks of comp, creating them on first use. Tap
// them from a ThisCompilation or Make hook of the outer compiler.
func HooksFor(comp *bundler.Compilation) *Hooks {
	return comp.LoadOrStore(hooksKey, func() interface{} { return newHooks() }).(*Hooks)
}
