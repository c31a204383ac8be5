package alias

// Vocabularies for generated aliases. The first word comes from the combined
// plant and mineral lists, the second from landscapes. Keep entries lowercase
// and memorable; avoid anything a reporter might find loaded or frightening.
var (
	plants = []string{
		"alder", "aspen", "bryony", "cedar", "clover", "fern", "hazel",
		"juniper", "laurel", "moss", "nettle", "rowan", "sorrel", "tansy",
		"willow", "yarrow",
	}

	minerals = []string{
		"amber", "basalt", "beryl", "cobalt", "flint", "garnet", "jasper",
		"mica", "opal", "quartz", "shale", "topaz",
	}

	landscapes = []string{
		"cove", "delta", "dune", "fjord", "glacier", "heath", "lagoon",
		"marsh", "mesa", "moor", "ridge", "steppe", "tarn", "tundra",
		"valley",
	}
)
