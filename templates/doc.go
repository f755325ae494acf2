// Package templates reads statement templates from a host object and serves
// them to Go code without further trips to the host loop.
//
// The host object describes its templates like this:
//
//	var generator = {
//	  shouldReuseParams: true,
//	  sqlTemplates() {
//	    return { select: { basic: "SELECT {{x}}" } };
//	  },
//	  // optional, used by Provider.CallTemplate
//	  callTemplate(name, params) { ... },
//	};
//
// The two-level structure is read once, validated and flattened into
// "category/name" keys. The Provider keeps a reference to the object until
// Close, which releases it on the host loop.
package templates
